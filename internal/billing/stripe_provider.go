package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// metadataExternalID links a Stripe customer to the auth user id
const metadataExternalID = "supabase_id"

// StripeProvider implements Provider using the Stripe API. Each provider owns
// its own API client so no package-level key is shared.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a StripeProvider with the given API key and webhook secret.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           client.New(apiKey, nil),
		webhookSecret: webhookSecret,
	}
}

// ResolveCustomer finds the customer carrying externalID in its metadata, or
// by id when externalID is a customer id, and updates its email. Otherwise a
// customer is created with the link in its metadata.
func (p *StripeProvider) ResolveCustomer(ctx context.Context, externalID, email string) (string, error) {
	customerID, err := p.findCustomer(ctx, externalID)
	if err != nil {
		return "", err
	}

	if customerID != "" {
		params := &stripe.CustomerParams{Email: stripe.String(email)}
		params.Context = ctx
		c, err := p.api.Customers.Update(customerID, params)
		if err != nil {
			return "", fmt.Errorf("billing: update stripe customer: %w", wrapStripeError(err))
		}
		return c.ID, nil
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata(metadataExternalID, externalID)
	// search results trail writes, so a retry shortly after creation is
	// collapsed onto the first customer by this key
	params.SetIdempotencyKey(customerIdempotencyKey(externalID, email))

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create stripe customer: %w", wrapStripeError(err))
	}
	return c.ID, nil
}

func (p *StripeProvider) findCustomer(ctx context.Context, externalID string) (string, error) {
	if strings.HasPrefix(externalID, "cus_") {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		c, err := p.api.Customers.Get(externalID, params)
		if err == nil && !c.Deleted {
			return c.ID, nil
		}
		if err != nil && !errors.Is(wrapStripeError(err), ErrNotFound) {
			return "", fmt.Errorf("billing: retrieve stripe customer: %w", wrapStripeError(err))
		}
	}

	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataExternalID, strings.ReplaceAll(externalID, "'", "\\'"))
	params.Limit = stripe.Int64(1)

	iter := p.api.Customers.Search(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("billing: search stripe customers: %w", wrapStripeError(err))
	}
	return "", nil
}

func customerIdempotencyKey(externalID, email string) string {
	sum := sha256.Sum256([]byte(externalID + "\x00" + email))
	return "customer-" + hex.EncodeToString(sum[:])
}

// AttachPaymentMethod attaches the payment method and sets it as the invoice default.
func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attach.Context = ctx
	if _, err := p.api.PaymentMethods.Attach(paymentMethodID, attach); err != nil {
		return fmt.Errorf("billing: attach payment method: %w", wrapStripeError(err))
	}

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	if _, err := p.api.Customers.Update(customerID, params); err != nil {
		return fmt.Errorf("billing: set default payment method: %w", wrapStripeError(err))
	}
	return nil
}

// CreateSubscription creates a subscription and expands the first invoice's
// confirmation secret.
func (p *StripeProvider) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	if in.TrialPeriodDays > 0 {
		params.TrialPeriodDays = stripe.Int64(in.TrialPeriodDays)
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.confirmation_secret")
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("billing: create stripe subscription: %w", wrapStripeError(err))
	}
	return toSubscription(sub), nil
}

// GetSubscription retrieves a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: retrieve stripe subscription: %w", wrapStripeError(err))
	}
	return toSubscription(sub), nil
}

// SetCancelAtPeriodEnd schedules or clears cancellation at period end.
func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: update stripe subscription: %w", wrapStripeError(err))
	}
	return toSubscription(sub), nil
}

// CreatePortalSession creates a billing portal session for the customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create portal session: %w", wrapStripeError(err))
	}
	return session.URL, nil
}

// ConstructEvent validates the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "customer.subscription.") && event.Data != nil {
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("billing: parse subscription event: %w", err)
		}
		out.Subscription = toSubscription(&sub)
	}
	return out, nil
}

// toSubscription projects a Stripe subscription. Period boundaries live on
// the subscription items since API version 2025-03-31.basil.
func toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAt:          s.CancelAt,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialStart:        s.TrialStart,
		TrialEnd:          s.TrialEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.CurrentPeriodStart = item.CurrentPeriodStart
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	if s.LatestInvoice != nil && s.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = s.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out
}

// wrapStripeError keeps the Stripe message and maps missing resources to
// ErrNotFound and idempotency conflicts to ErrIdempotencyMismatch.
func wrapStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, serr.Msg)
		}
		if serr.Type == stripe.ErrorTypeIdempotency {
			return fmt.Errorf("%w: %s", ErrIdempotencyMismatch, serr.Msg)
		}
		return errors.New(serr.Msg)
	}
	return err
}
