package services

import (
	"context"
	"errors"
	"fmt"

	"subscription-api/internal/billing"
	"subscription-api/internal/metrics"
	"subscription-api/pkg/logging"
)

// Webhook processing results
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookDuplicate = "duplicate"
	WebhookFailed    = "failed"
	WebhookRejected  = "rejected"
)

// WebhookService verifies provider events and reconciles the profiles they
// affect.
type WebhookService struct {
	provider      billing.Provider
	subscriptions *SubscriptionService
	replay        *ReplayProtection
	metrics       *metrics.Collector
}

// NewWebhookService creates a new webhook service
func NewWebhookService(provider billing.Provider, subscriptions *SubscriptionService, replay *ReplayProtection, m *metrics.Collector) *WebhookService {
	return &WebhookService{
		provider:      provider,
		subscriptions: subscriptions,
		replay:        replay,
		metrics:       m,
	}
}

// Handle processes one webhook delivery and returns its result label
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := s.provider.ConstructEvent(payload, signature)
	if err != nil {
		s.metrics.WebhookEvent("unknown", WebhookRejected)
		if errors.Is(err, billing.ErrInvalidSignature) {
			return WebhookRejected, validationError("Invalid webhook signature")
		}
		return WebhookRejected, validationError(fmt.Sprintf("Invalid webhook payload: %v", err))
	}

	switch event.Type {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
	default:
		s.metrics.WebhookEvent(event.Type, WebhookIgnored)
		logging.Debugf("Ignoring webhook event - id: %s, type: %s", event.ID, event.Type)
		return WebhookIgnored, nil
	}
	if event.Subscription == nil || event.Subscription.ID == "" {
		s.metrics.WebhookEvent(event.Type, WebhookRejected)
		return WebhookRejected, validationError("Webhook event has no subscription")
	}

	if s.replay != nil {
		replayed, err := s.replay.IsReplay(ctx, event.ID)
		if err != nil {
			logging.Warnf("Replay check failed, processing anyway - event: %s, error: %v", event.ID, err)
		} else if replayed {
			s.metrics.WebhookEvent(event.Type, WebhookDuplicate)
			return WebhookDuplicate, nil
		}
	}

	if err := s.subscriptions.Reconcile(ctx, event.Subscription); err != nil {
		s.metrics.WebhookEvent(event.Type, WebhookFailed)
		if s.replay != nil {
			// let the provider's retry reprocess the event
			if forgetErr := s.replay.Forget(ctx, event.ID); forgetErr != nil {
				logging.Warnf("Failed to release webhook event %s: %v", event.ID, forgetErr)
			}
		}
		return WebhookFailed, upstream("Failed to reconcile subscription", err)
	}

	logging.Infof("Webhook reconciled - event: %s, type: %s, subscription: %s, event status: %s",
		event.ID, event.Type, event.Subscription.ID, event.Subscription.Status)
	s.metrics.WebhookEvent(event.Type, WebhookProcessed)
	return WebhookProcessed, nil
}
