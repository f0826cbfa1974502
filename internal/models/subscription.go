package models

import "time"

// Subscription statuses reported by the billing provider
const (
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusPaused            = "paused"
)

// Plan is a purchasable price offered during signup
type Plan struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Interval string  `json:"interval"` // month or year
	Price    float64 `json:"price"`
}

// ProfileSubscription is the set of subscription fields written to a profile
// once signup completes.
type ProfileSubscription struct {
	SubscriptionID     string
	SubscriptionStatus string
	PlanID             string
	TrialEnd           *time.Time
	StripeCustomerID   string
}

// SubscriptionMirror carries the provider state copied into profiles by the
// reconciliation routine. Nil fields are left untouched.
type SubscriptionMirror struct {
	Status            string
	CancelAtPeriodEnd *bool
	TrialEnd          *time.Time
}
