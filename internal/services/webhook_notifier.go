package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"subscription-api/pkg/logging"
)

// WebhookNotifier posts lifecycle events to a downstream backend
type WebhookNotifier struct {
	httpClient  *http.Client
	callbackURL string
	secret      string
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a new webhook notifier. It returns nil when no
// callback URL is configured.
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	if callbackURL == "" {
		return nil
	}
	return &WebhookNotifier{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		callbackURL: callbackURL,
		secret:      secret,
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
	}
}

// WebhookPayload represents the payload sent downstream
type WebhookPayload struct {
	Event          string `json:"event"`
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id,omitempty"`
	Status         string `json:"status"`
	CancelAt       int64  `json:"cancel_at,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC 3339
}

// Notify sends the event, retrying on failure until ctx is done
func (wn *WebhookNotifier) Notify(ctx context.Context, event LifecycleEvent) {
	payload := WebhookPayload{
		Event:          event.Type,
		SubscriptionID: event.SubscriptionID,
		UserID:         event.UserID,
		Status:         event.Status,
		CancelAt:       event.CancelAt,
		Timestamp:      event.OccurredAt.UTC().Format(time.RFC3339),
	}

	attempts := len(wn.retryDelays) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err := wn.send(ctx, payload)
		if err == nil {
			logging.Infof("Webhook notification sent - subscription: %s, event: %s, attempt: %d",
				payload.SubscriptionID, payload.Event, attempt+1)
			return
		}

		logging.Errorf("Webhook notification failed - subscription: %s, event: %s, attempt: %d, error: %v",
			payload.SubscriptionID, payload.Event, attempt+1, err)

		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(wn.retryDelays[attempt]):
		case <-ctx.Done():
			return
		}
	}
}

func (wn *WebhookNotifier) send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if wn.secret != "" {
		req.Header.Set("X-Signature", generateSignature(body, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// generateSignature generates the HMAC-SHA256 signature of a payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
