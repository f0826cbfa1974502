// Package billing wraps the payment processor that owns subscription state.
package billing

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the provider has no such object
var ErrNotFound = errors.New("billing: not found")

// ErrIdempotencyMismatch is returned when an idempotency key is reused with
// different request parameters
var ErrIdempotencyMismatch = errors.New("billing: idempotency key mismatch")

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// Subscription is the provider-side view of a subscription. Timestamps are
// unix seconds; zero means absent.
type Subscription struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer_id"`
	PriceID            string `json:"price_id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAt           int64  `json:"cancel_at"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	TrialStart         int64  `json:"trial_start"`
	TrialEnd           int64  `json:"trial_end"`

	// ClientSecret confirms the first payment client-side. Only set on creation.
	ClientSecret string `json:"client_secret,omitempty"`
}

// CreateSubscriptionParams describes a new subscription
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	TrialPeriodDays int64
	IdempotencyKey  string
}

// Event types the service reacts to
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is a verified webhook event. Subscription is set for subscription events.
type Event struct {
	ID           string
	Type         string
	Subscription *Subscription
}

// Provider abstracts the payment processor's customer and subscription API.
type Provider interface {
	// ResolveCustomer returns the provider customer linked to externalID,
	// updating its email, and creates it on first use. Repeated calls resolve
	// to the same customer. An existing customer id resolves to itself.
	ResolveCustomer(ctx context.Context, externalID, email string) (customerID string, err error)
	// AttachPaymentMethod attaches the payment method and makes it the invoice default.
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	// CreateSubscription starts a subscription with an optional trial.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	// GetSubscription reads a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// SetCancelAtPeriodEnd schedules or clears cancellation at period end.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error)
	// CreatePortalSession returns the URL of a hosted billing-management session.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
	// ConstructEvent verifies and decodes a webhook payload.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}
