package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

const createScope = "create-subscription"

var subscriptionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ProfileRepository is the part of the profile store the subscription
// endpoints write through to.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error)
	ApplySubscription(ctx context.Context, userID string, sub models.ProfileSubscription) error
	MirrorBySubscriptionID(ctx context.Context, subscriptionID string, mirror models.SubscriptionMirror) error
	MirrorByUserID(ctx context.Context, userID string, mirror models.SubscriptionMirror) error
}

// Notifier receives lifecycle events after a successful mutation
type Notifier interface {
	Notify(event LifecycleEvent)
}

// CacheInvalidator drops derived data after a profile changes
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// SubscriptionServiceConfig wires a SubscriptionService. Only Provider and
// Profiles are required.
type SubscriptionServiceConfig struct {
	Provider    billing.Provider
	Profiles    ProfileRepository
	Idempotency *IdempotencyService
	Notifier    Notifier
	Metrics     *metrics.Collector
	Cache       CacheInvalidator

	DefaultTrialDays int64
	// EagerCancelStatus marks the profile "canceled" as soon as cancellation
	// is scheduled instead of mirroring the provider status.
	EagerCancelStatus bool
}

// SubscriptionService mutates subscriptions at the billing provider and
// writes the result through to the profile store.
type SubscriptionService struct {
	provider    billing.Provider
	profiles    ProfileRepository
	idempotency *IdempotencyService
	notifier    Notifier
	metrics     *metrics.Collector
	cache       CacheInvalidator

	defaultTrialDays int64
	eagerCancel      bool
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(cfg SubscriptionServiceConfig) *SubscriptionService {
	return &SubscriptionService{
		provider:         cfg.Provider,
		profiles:         cfg.Profiles,
		idempotency:      cfg.Idempotency,
		notifier:         cfg.Notifier,
		metrics:          cfg.Metrics,
		cache:            cfg.Cache,
		defaultTrialDays: cfg.DefaultTrialDays,
		eagerCancel:      cfg.EagerCancelStatus,
	}
}

// CreateSubscriptionInput is the payload of a create request
type CreateSubscriptionInput struct {
	PaymentMethodID string `json:"paymentMethodId"`
	CustomerID      string `json:"customerId"`
	PriceID         string `json:"priceId"`
	Email           string `json:"email"`
	TrialPeriodDays *int64 `json:"trial_period_days"`
}

// CreatedSubscription is the outcome of a create request
type CreatedSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ClientSecret       string `json:"client_secret,omitempty"`
	TrialEnd           int64  `json:"trial_end,omitempty"`
	ProviderCustomerID string `json:"provider_customer_id"`
	Replayed           bool   `json:"-"`
}

// ValidateSubscriptionID checks a subscription id taken from a request path
func ValidateSubscriptionID(id string) error {
	if id == "" {
		return validationError("Subscription ID is required")
	}
	if !subscriptionIDPattern.MatchString(id) {
		return validationError("Invalid subscription ID")
	}
	return nil
}

// Create resolves the customer, attaches the payment method and starts the
// subscription. The profile store is not touched.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*CreatedSubscription, error) {
	if in.PaymentMethodID == "" || in.CustomerID == "" || in.PriceID == "" || in.Email == "" {
		return nil, validationError("Missing required fields: paymentMethodId, customerId, priceId and email are required")
	}
	trialDays := s.defaultTrialDays
	if in.TrialPeriodDays != nil {
		trialDays = *in.TrialPeriodDays
	}
	if trialDays < 0 {
		return nil, validationError("trial_period_days must not be negative")
	}

	key := s.idempotency.Key(in.CustomerID, in.PriceID)
	attempt, replayed, err := s.reserve(ctx, in.CustomerID, key)
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	created, err := s.create(ctx, in, trialDays, attempt)
	if err != nil {
		if abortErr := s.idempotency.Abort(ctx, createScope, key); abortErr != nil {
			logging.Warnf("Failed to release idempotency key - customer: %s, error: %v", in.CustomerID, abortErr)
		}
		return nil, err
	}

	if err := s.idempotency.Complete(ctx, createScope, key, created); err != nil {
		logging.Warnf("Failed to store idempotency result - customer: %s, error: %v", in.CustomerID, err)
	}
	return created, nil
}

// reserve claims the idempotency key for a create request. A stored result is
// replayed only while its subscription is still live at the provider, with the
// provider's current status; an ended one is discarded so the customer can
// subscribe again.
func (s *SubscriptionService) reserve(ctx context.Context, customerID, key string) (string, *CreatedSubscription, error) {
	for i := 0; i < 2; i++ {
		var stored CreatedSubscription
		attempt, found, err := s.idempotency.Begin(ctx, createScope, key, &stored)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return "", nil, err
			}
			// the guard is best effort; a Redis outage must not block signups
			logging.Warnf("Idempotency check failed - customer: %s, error: %v", customerID, err)
			return "", nil, nil
		}
		if !found {
			return attempt, nil, nil
		}

		live, err := s.provider.GetSubscription(ctx, stored.ID)
		s.metrics.ObserveProvider("get_subscription", err)
		if err != nil && !errors.Is(err, billing.ErrNotFound) {
			return "", nil, upstream("Failed to create subscription", err)
		}
		if err == nil && !subscriptionEnded(live.Status) {
			logging.Infof("Replaying create-subscription result - customer: %s, subscription: %s, status: %s",
				customerID, stored.ID, live.Status)
			stored.Status = live.Status
			stored.TrialEnd = live.TrialEnd
			stored.Replayed = true
			return "", &stored, nil
		}

		logging.Infof("Discarding stored create-subscription result - customer: %s, subscription: %s", customerID, stored.ID)
		if err := s.idempotency.Abort(ctx, createScope, key); err != nil {
			return "", nil, upstream("Failed to create subscription", err)
		}
	}
	return "", nil, fmt.Errorf("%w: idempotency key is contended", ErrConflict)
}

// subscriptionEnded reports whether a subscription can no longer become active
func subscriptionEnded(status string) bool {
	return status == models.StatusCanceled || status == models.StatusIncompleteExpired
}

func (s *SubscriptionService) create(ctx context.Context, in CreateSubscriptionInput, trialDays int64, attempt string) (*CreatedSubscription, error) {
	customerID, err := s.provider.ResolveCustomer(ctx, in.CustomerID, in.Email)
	s.metrics.ObserveProvider("resolve_customer", err)
	if err != nil {
		return nil, upstream("Failed to create subscription", err)
	}

	err = s.provider.AttachPaymentMethod(ctx, customerID, in.PaymentMethodID)
	s.metrics.ObserveProvider("attach_payment_method", err)
	if err != nil {
		return nil, upstream("Failed to create subscription", err)
	}

	sub, err := s.provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID:      customerID,
		PriceID:         in.PriceID,
		TrialPeriodDays: trialDays,
		IdempotencyKey:  attempt,
	})
	s.metrics.ObserveProvider("create_subscription", err)
	if err != nil {
		return nil, upstream("Failed to create subscription", err)
	}

	logging.Infof("Subscription created - id: %s, customer: %s, status: %s", sub.ID, customerID, sub.Status)
	s.invalidate(ctx)
	return &CreatedSubscription{
		ID:                 sub.ID,
		Status:             sub.Status,
		ClientSecret:       sub.ClientSecret,
		TrialEnd:           sub.TrialEnd,
		ProviderCustomerID: customerID,
	}, nil
}

// Retrieve reads a subscription from the provider
func (s *SubscriptionService) Retrieve(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	if err := ValidateSubscriptionID(subscriptionID); err != nil {
		return nil, err
	}
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	s.metrics.ObserveProvider("get_subscription", err)
	if err != nil {
		return nil, upstream("Failed to retrieve subscription", err)
	}
	return sub, nil
}

// Cancel schedules cancellation at period end and mirrors it to the profile
// holding the subscription. Calling it again is a no-op at the provider.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	return s.cancel(ctx, subscriptionID, "", false)
}

// AdminCancel schedules cancellation on behalf of userID
func (s *SubscriptionService) AdminCancel(ctx context.Context, subscriptionID, userID string) (*billing.Subscription, error) {
	return s.cancel(ctx, subscriptionID, userID, true)
}

func (s *SubscriptionService) cancel(ctx context.Context, subscriptionID, userID string, byUser bool) (*billing.Subscription, error) {
	if err := ValidateSubscriptionID(subscriptionID); err != nil {
		return nil, err
	}
	sub, err := s.provider.SetCancelAtPeriodEnd(ctx, subscriptionID, true)
	s.metrics.ObserveProvider("cancel_subscription", err)
	if err != nil {
		return nil, upstream("Failed to cancel subscription", err)
	}
	logging.Infof("Subscription cancellation scheduled - id: %s, status: %s, cancel_at: %d", sub.ID, sub.Status, sub.CancelAt)

	status := sub.Status
	if s.eagerCancel {
		status = models.StatusCanceled
	}
	mirror := mirrorOf(sub)
	mirror.Status = status

	s.writeThrough(ctx, "cancel", subscriptionID, userID, byUser, mirror)
	s.notify(ctx, EventCancelScheduled, sub, userID)
	return sub, nil
}

// Resume clears a scheduled cancellation and mirrors the provider's status
// to the profile holding the subscription.
func (s *SubscriptionService) Resume(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	return s.resume(ctx, "resume", subscriptionID, "", false)
}

// AdminReactivate clears a scheduled cancellation on behalf of userID. The
// profile write is skipped when userID is empty.
func (s *SubscriptionService) AdminReactivate(ctx context.Context, subscriptionID, userID string) (*billing.Subscription, error) {
	return s.resume(ctx, "reactivate", subscriptionID, userID, true)
}

func (s *SubscriptionService) resume(ctx context.Context, operation, subscriptionID, userID string, byUser bool) (*billing.Subscription, error) {
	if err := ValidateSubscriptionID(subscriptionID); err != nil {
		return nil, err
	}
	sub, err := s.provider.SetCancelAtPeriodEnd(ctx, subscriptionID, false)
	s.metrics.ObserveProvider(operation+"_subscription", err)
	if err != nil {
		return nil, upstream("Failed to "+operation+" subscription", err)
	}
	logging.Infof("Subscription %sd - id: %s, status: %s", operation, sub.ID, sub.Status)

	s.writeThrough(ctx, operation, subscriptionID, userID, byUser, mirrorOf(sub))

	event := EventResumed
	if byUser {
		event = EventReactivated
	}
	s.notify(ctx, event, sub, userID)
	return sub, nil
}

// Reconcile copies the provider's current view of a subscription to the
// profile that holds it. Webhook deliveries go through here. Events arrive in
// no particular order, so the subscription is read back from the provider and
// the event copy is used only when the provider no longer has it.
func (s *SubscriptionService) Reconcile(ctx context.Context, sub *billing.Subscription) error {
	live, err := s.provider.GetSubscription(ctx, sub.ID)
	s.metrics.ObserveProvider("get_subscription", err)
	switch {
	case err == nil:
		sub = live
	case errors.Is(err, billing.ErrNotFound):
		logging.Warnf("Subscription %s not found at provider, reconciling from event data", sub.ID)
	default:
		return fmt.Errorf("failed to read subscription %s: %w", sub.ID, err)
	}

	err = s.profiles.MirrorBySubscriptionID(ctx, sub.ID, mirrorOf(sub))
	if err != nil {
		if errors.Is(err, database.ErrProfileNotFound) {
			logging.Debugf("No profile holds subscription %s, nothing to reconcile", sub.ID)
			return nil
		}
		return err
	}
	s.invalidate(ctx)
	return nil
}

// writeThrough applies mirror to the profile. Failures leave the profile
// behind the provider and are only logged and counted.
func (s *SubscriptionService) writeThrough(ctx context.Context, operation, subscriptionID, userID string, byUser bool, mirror models.SubscriptionMirror) {
	var err error
	switch {
	case byUser && userID == "":
		return
	case byUser:
		err = s.profiles.MirrorByUserID(ctx, userID, mirror)
	default:
		err = s.profiles.MirrorBySubscriptionID(ctx, subscriptionID, mirror)
	}
	if err != nil {
		s.metrics.WriteThroughFailed(operation)
		logging.Errorf("Profile write-through failed - operation: %s, subscription: %s, user: %s, error: %v",
			operation, subscriptionID, userID, err)
		return
	}
	s.invalidate(ctx)
}

func (s *SubscriptionService) notify(ctx context.Context, eventType string, sub *billing.Subscription, userID string) {
	if s.notifier == nil {
		return
	}

	event := LifecycleEvent{
		Type:           eventType,
		SubscriptionID: sub.ID,
		UserID:         userID,
		Status:         sub.Status,
		CancelAt:       sub.CancelAt,
	}

	var profile *models.Profile
	var err error
	if userID != "" {
		profile, err = s.profiles.GetProfile(ctx, userID)
	} else {
		profile, err = s.profiles.FindBySubscriptionID(ctx, sub.ID)
	}
	if err == nil {
		event.UserID = profile.ID
		event.Email = profile.Email
	}
	s.notifier.Notify(event)
}

func (s *SubscriptionService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func mirrorOf(sub *billing.Subscription) models.SubscriptionMirror {
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	mirror := models.SubscriptionMirror{
		Status:            sub.Status,
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		mirror.TrialEnd = &trialEnd
	}
	return mirror
}
