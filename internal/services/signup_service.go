package services

import (
	"context"
	"errors"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// PlanCatalog builds the plans offered at signup
func PlanCatalog(monthlyID string, monthlyPrice float64, yearlyID string, yearlyPrice float64) []models.Plan {
	return []models.Plan{
		{ID: monthlyID, Name: "Monthly", Interval: "month", Price: monthlyPrice},
		{ID: yearlyID, Name: "Yearly", Interval: "year", Price: yearlyPrice},
	}
}

// SignupInput is the payload of the signup completion step
type SignupInput struct {
	PaymentMethodID string `json:"paymentMethodId"`
	PlanID          string `json:"planId"`
	TrialPeriodDays *int64 `json:"trial_period_days"`
}

// SignupResult is returned once the subscription has been created
type SignupResult struct {
	Subscription   *CreatedSubscription
	PlanID         string
	ProfileUpdated bool
}

// SignupService completes signup by creating the subscription and recording
// it on the user's profile.
type SignupService struct {
	subscriptions *SubscriptionService
	profiles      ProfileRepository
	plans         []models.Plan
	cache         CacheInvalidator
}

// NewSignupService creates a new signup service
func NewSignupService(subscriptions *SubscriptionService, profiles ProfileRepository, plans []models.Plan, cache CacheInvalidator) *SignupService {
	return &SignupService{
		subscriptions: subscriptions,
		profiles:      profiles,
		plans:         plans,
		cache:         cache,
	}
}

// Plans returns the plan catalogue
func (s *SignupService) Plans() []models.Plan {
	return s.plans
}

func (s *SignupService) findPlan(id string) (models.Plan, bool) {
	for _, plan := range s.plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return models.Plan{}, false
}

// CompleteSignup subscribes the session's user to the chosen plan. The
// profile is written only when the subscription is usable right away; an
// incomplete subscription is returned with its client secret so payment can
// be confirmed client-side.
func (s *SignupService) CompleteSignup(ctx context.Context, session *Session, in SignupInput) (*SignupResult, error) {
	if in.PaymentMethodID == "" || in.PlanID == "" {
		return nil, validationError("paymentMethodId and planId are required")
	}
	plan, ok := s.findPlan(in.PlanID)
	if !ok {
		return nil, validationError("Unknown plan: " + in.PlanID)
	}

	email := session.Email
	if profile, err := s.profiles.GetProfile(ctx, session.UserID); err == nil {
		if profile.Email != "" {
			email = profile.Email
		}
	} else if !errors.Is(err, database.ErrProfileNotFound) {
		logging.Warnf("Failed to load profile during signup - user: %s, error: %v", session.UserID, err)
	}
	if email == "" {
		return nil, validationError("email is required")
	}

	created, err := s.subscriptions.Create(ctx, CreateSubscriptionInput{
		PaymentMethodID: in.PaymentMethodID,
		CustomerID:      session.UserID,
		PriceID:         plan.ID,
		Email:           email,
		TrialPeriodDays: in.TrialPeriodDays,
	})
	if err != nil {
		return nil, err
	}

	result := &SignupResult{Subscription: created, PlanID: plan.ID}
	if created.Status != models.StatusActive && created.Status != models.StatusTrialing {
		logging.Infof("Signup subscription needs confirmation - user: %s, subscription: %s, status: %s",
			session.UserID, created.ID, created.Status)
		return result, nil
	}

	var trialEnd *time.Time
	if created.TrialEnd > 0 {
		t := time.Unix(created.TrialEnd, 0).UTC()
		trialEnd = &t
	}
	err = s.profiles.ApplySubscription(ctx, session.UserID, models.ProfileSubscription{
		SubscriptionID:     created.ID,
		SubscriptionStatus: created.Status,
		PlanID:             plan.ID,
		TrialEnd:           trialEnd,
		StripeCustomerID:   created.ProviderCustomerID,
	})
	if err != nil {
		s.subscriptions.metrics.WriteThroughFailed("signup")
		logging.Errorf("Profile write-through failed - operation: signup, user: %s, subscription: %s, error: %v",
			session.UserID, created.ID, err)
		return result, nil
	}

	result.ProfileUpdated = true
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	return result, nil
}
