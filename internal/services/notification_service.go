package services

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"subscription-api/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// Lifecycle event names
const (
	EventCancelScheduled = "subscription.cancel_scheduled"
	EventResumed         = "subscription.resumed"
	EventReactivated     = "subscription.reactivated"
)

// LifecycleEvent describes a subscription change made through this service
type LifecycleEvent struct {
	Type           string
	SubscriptionID string
	UserID         string
	Email          string
	Status         string
	CancelAt       int64
	OccurredAt     time.Time
}

// EmailSender delivers one transactional email
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlContent, textContent string) error
}

// BrevoSender sends email through the Brevo transactional API
type BrevoSender struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
}

// NewBrevoSender creates a new Brevo sender
func NewBrevoSender(apiKey, fromEmail, fromName string) *BrevoSender {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoSender{
		client:    brevo.NewAPIClient(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send sends an email via Brevo
func (s *BrevoSender) Send(ctx context.Context, to, subject, htmlContent, textContent string) error {
	_, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: s.fromName, Email: s.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     subject,
		HtmlContent: htmlContent,
		TextContent: textContent,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// NotificationService fans lifecycle events out to email and to the
// optional downstream webhook. Delivery runs in the background.
type NotificationService struct {
	email       EmailSender
	webhook     *WebhookNotifier
	serviceName string
	timeout     time.Duration
	wg          sync.WaitGroup
}

// NewNotificationService creates a notification service. Either sink may be nil.
func NewNotificationService(email EmailSender, webhook *WebhookNotifier, serviceName string) *NotificationService {
	return &NotificationService{
		email:       email,
		webhook:     webhook,
		serviceName: serviceName,
		timeout:     10 * time.Second,
	}
}

// Notify delivers event asynchronously so it never delays the response
func (n *NotificationService) Notify(event LifecycleEvent) {
	if n == nil || (n.email == nil && n.webhook == nil) {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.deliver(ctx, event)
	}()
}

// Wait blocks until in-flight deliveries finish
func (n *NotificationService) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *NotificationService) deliver(ctx context.Context, event LifecycleEvent) {
	if n.email != nil && event.Email != "" {
		subject, htmlBody, textBody := n.renderEmail(event)
		if err := n.email.Send(ctx, event.Email, subject, htmlBody, textBody); err != nil {
			logging.Errorf("Lifecycle email failed - subscription: %s, event: %s, error: %v", event.SubscriptionID, event.Type, err)
		}
	}
	if n.webhook != nil {
		n.webhook.Notify(ctx, event)
	}
}

func (n *NotificationService) renderEmail(event LifecycleEvent) (subject, htmlBody, textBody string) {
	var line string
	switch event.Type {
	case EventCancelScheduled:
		subject = fmt.Sprintf("%s: your subscription will end", n.serviceName)
		line = "Your subscription has been set to cancel at the end of the current billing period."
		if event.CancelAt > 0 {
			line = fmt.Sprintf("Your subscription will end on %s. You keep access until then.",
				time.Unix(event.CancelAt, 0).UTC().Format("January 2, 2006"))
		}
	case EventResumed, EventReactivated:
		subject = fmt.Sprintf("%s: your subscription is active again", n.serviceName)
		line = "Your scheduled cancellation was removed and your subscription will renew normally."
	default:
		subject = fmt.Sprintf("%s: subscription update", n.serviceName)
		line = fmt.Sprintf("Your subscription status is now %q.", event.Status)
	}

	htmlBody = fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="color: #333;">%s</h1>
	<p style="color: #666; font-size: 16px;">%s</p>
</body>
</html>`, html.EscapeString(n.serviceName), html.EscapeString(line))
	textBody = fmt.Sprintf("%s\n\n%s\n", n.serviceName, line)
	return subject, htmlBody, textBody
}
