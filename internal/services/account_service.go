package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// SubscriptionSettings is the self-service view of a user's subscription
type SubscriptionSettings struct {
	SubscriptionID     *string    `json:"subscription_id"`
	SubscriptionStatus string     `json:"subscription_status"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PlanID             string     `json:"plan_id"`
	TrialEnd           *time.Time `json:"trial_end"`
	IsTrialing         bool       `json:"is_trialing"`
	IsActive           bool       `json:"is_active"`
	IsCanceled         bool       `json:"is_canceled"`

	// Live is the provider's current view; nil when unavailable.
	Live *billing.Subscription `json:"-"`
}

// AccountService serves the signed-in user's own billing pages
type AccountService struct {
	provider billing.Provider
	profiles ProfileRepository
	appURL   string
}

// NewAccountService creates a new account service
func NewAccountService(provider billing.Provider, profiles ProfileRepository, appURL string) *AccountService {
	return &AccountService{provider: provider, profiles: profiles, appURL: appURL}
}

// Settings joins the user's profile with the live provider subscription. A
// provider failure degrades to the profile-only view.
func (s *AccountService) Settings(ctx context.Context, userID string) (*SubscriptionSettings, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings := &SubscriptionSettings{
		SubscriptionID:     profile.SubscriptionID,
		SubscriptionStatus: profile.SubscriptionStatus,
		CancelAtPeriodEnd:  profile.CancelAtPeriodEnd,
		PlanID:             profile.PlanID,
		TrialEnd:           profile.TrialEnd,
		IsTrialing:         profile.SubscriptionStatus == models.StatusTrialing,
		IsActive:           profile.SubscriptionStatus == models.StatusActive,
		IsCanceled:         profile.SubscriptionStatus == models.StatusCanceled,
	}

	if profile.SubscriptionID != nil && *profile.SubscriptionID != "" {
		live, err := s.provider.GetSubscription(ctx, *profile.SubscriptionID)
		if err != nil {
			logging.Warnf("Failed to load live subscription - user: %s, subscription: %s, error: %v",
				userID, *profile.SubscriptionID, err)
		} else {
			settings.Live = live
		}
	}
	return settings, nil
}

// PortalURL opens a billing portal session for the user. The portal returns
// to the settings page on origin, or on the configured app URL.
func (s *AccountService) PortalURL(ctx context.Context, userID, origin string) (string, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", validationError("No Stripe customer found for this user")
		}
		return "", err
	}
	if profile.StripeCustomerID == "" {
		return "", validationError("No Stripe customer found for this user")
	}

	base := origin
	if base == "" {
		base = s.appURL
	}
	returnURL := strings.TrimRight(base, "/") + "/dashboard/settings"

	url, err := s.provider.CreatePortalSession(ctx, profile.StripeCustomerID, returnURL)
	if err != nil {
		return "", upstream("Failed to create customer portal session", err)
	}
	return url, nil
}

func (s *AccountService) loadProfile(ctx context.Context, userID string) (*models.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrProfileNotFound) {
			return nil, notFoundError("Profile not found")
		}
		return nil, upstream("Failed to load profile", err)
	}
	return profile, nil
}
