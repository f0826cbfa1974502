package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider used for local development and
// tests. It records calls and returns configurable results.
type MemoryProvider struct {
	mu sync.Mutex

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
	// WebhookSecret, when set, must equal the signature passed to ConstructEvent.
	WebhookSecret string
	// CreateStatus overrides the status of new subscriptions, e.g. "incomplete".
	CreateStatus string

	// Error fields allow tests to inject failures.
	ResolveCustomerErr    error
	AttachPaymentErr      error
	CreateSubscriptionErr error
	GetSubscriptionErr    error
	UpdateSubscriptionErr error
	PortalErr             error

	customers      map[string]string // external id -> customer id
	paymentMethods map[string]string // customer id -> default payment method
	subscriptions  map[string]*Subscription
	idempotent     map[string]idempotentCreate

	calls     map[string]int
	mutations int
	nextSeq   int
}

// NewMemoryProvider creates a MemoryProvider ready for use.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		Now:            time.Now,
		customers:      make(map[string]string),
		paymentMethods: make(map[string]string),
		subscriptions:  make(map[string]*Subscription),
		idempotent:     make(map[string]idempotentCreate),
		calls:          make(map[string]int),
	}
}

// Calls returns how many times the named method was invoked.
func (m *MemoryProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of provider calls of any kind.
func (m *MemoryProvider) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// Mutations returns the number of successful state-changing calls.
func (m *MemoryProvider) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// DefaultPaymentMethod returns the default payment method of a customer.
func (m *MemoryProvider) DefaultPaymentMethod(customerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paymentMethods[customerID]
}

// Put stores a subscription as-is, replacing any existing one.
func (m *MemoryProvider) Put(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := sub
	m.subscriptions[sub.ID] = &s
}

// SetStatus transitions a stored subscription, e.g. when a period ends.
func (m *MemoryProvider) SetStatus(subscriptionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}
	sub.Status = status
	return nil
}

// ResolveCustomer returns the mock customer for externalID, creating it once.
// An existing customer id resolves to itself.
func (m *MemoryProvider) ResolveCustomer(_ context.Context, externalID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ResolveCustomer"]++

	if m.ResolveCustomerErr != nil {
		return "", m.ResolveCustomerErr
	}
	if id, ok := m.customers[externalID]; ok {
		return id, nil
	}
	if m.hasCustomer(externalID) {
		return externalID, nil
	}

	m.nextSeq++
	id := fmt.Sprintf("cus_mock_%d", m.nextSeq)
	m.customers[externalID] = id
	m.mutations++
	return id, nil
}

// AttachPaymentMethod records the default payment method.
func (m *MemoryProvider) AttachPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["AttachPaymentMethod"]++

	if m.AttachPaymentErr != nil {
		return m.AttachPaymentErr
	}
	if !m.hasCustomer(customerID) {
		return fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	}
	m.paymentMethods[customerID] = paymentMethodID
	m.mutations++
	return nil
}

// idempotentCreate is the outcome recorded for an idempotency key
type idempotentCreate struct {
	params CreateSubscriptionParams
	sub    *Subscription
	err    error
}

// CreateSubscription creates a mock subscription. A positive trial yields
// "trialing", otherwise "active" unless CreateStatus overrides it. Like Stripe,
// a repeated idempotency key returns the first outcome, failures included, and
// a key reused with different parameters is rejected.
func (m *MemoryProvider) CreateSubscription(_ context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateSubscription"]++

	if params.IdempotencyKey != "" {
		if prev, ok := m.idempotent[params.IdempotencyKey]; ok {
			if prev.params != params {
				return nil, fmt.Errorf("%w: idempotency key %s reused with different parameters", ErrIdempotencyMismatch, params.IdempotencyKey)
			}
			if prev.err != nil {
				return nil, prev.err
			}
			out := *prev.sub
			return &out, nil
		}
	}

	sub, err := m.createSubscription(params)
	if params.IdempotencyKey != "" {
		m.idempotent[params.IdempotencyKey] = idempotentCreate{params: params, sub: sub, err: err}
	}
	if err != nil {
		return nil, err
	}
	out := *sub
	return &out, nil
}

func (m *MemoryProvider) createSubscription(params CreateSubscriptionParams) (*Subscription, error) {
	if m.CreateSubscriptionErr != nil {
		return nil, m.CreateSubscriptionErr
	}
	if !m.hasCustomer(params.CustomerID) {
		return nil, fmt.Errorf("%w: customer %s", ErrNotFound, params.CustomerID)
	}

	now := m.Now().Unix()
	m.nextSeq++
	sub := &Subscription{
		ID:                 fmt.Sprintf("sub_mock_%d", m.nextSeq),
		CustomerID:         params.CustomerID,
		PriceID:            params.PriceID,
		Status:             "active",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now + 30*24*3600,
	}
	if params.TrialPeriodDays > 0 {
		sub.Status = "trialing"
		sub.TrialStart = now
		sub.TrialEnd = now + params.TrialPeriodDays*24*3600
		sub.CurrentPeriodEnd = sub.TrialEnd
	}
	if m.CreateStatus != "" {
		sub.Status = m.CreateStatus
	}
	m.subscriptions[sub.ID] = sub
	m.mutations++

	created := *sub
	if sub.Status != "trialing" {
		created.ClientSecret = fmt.Sprintf("%s_secret_mock", sub.ID)
	}
	return &created, nil
}

// GetSubscription returns a copy of the stored subscription.
func (m *MemoryProvider) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetSubscription"]++

	if m.GetSubscriptionErr != nil {
		return nil, m.GetSubscriptionErr
	}
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}
	out := *sub
	return &out, nil
}

// SetCancelAtPeriodEnd flips the cancellation marker. Like Stripe, a
// subscription that already reached "canceled" cannot be updated.
func (m *MemoryProvider) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["SetCancelAtPeriodEnd"]++

	if m.UpdateSubscriptionErr != nil {
		return nil, m.UpdateSubscriptionErr
	}
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}
	if sub.Status == "canceled" {
		return nil, fmt.Errorf("billing: subscription %s is canceled and cannot be updated", subscriptionID)
	}

	sub.CancelAtPeriodEnd = cancel
	sub.CancelAt = 0
	if cancel {
		sub.CancelAt = sub.CurrentPeriodEnd
	}
	m.mutations++

	out := *sub
	return &out, nil
}

// CreatePortalSession returns a fake portal URL.
func (m *MemoryProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreatePortalSession"]++

	if m.PortalErr != nil {
		return "", m.PortalErr
	}
	return fmt.Sprintf("https://billing.example.test/session/%s?return_url=%s", customerID, returnURL), nil
}

// memoryEvent is the JSON shape accepted by MemoryProvider.ConstructEvent
type memoryEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object *Subscription `json:"object"`
	} `json:"data"`
}

// ConstructEvent decodes a JSON event. The signature must equal WebhookSecret
// when one is configured.
func (m *MemoryProvider) ConstructEvent(payload []byte, signature string) (*Event, error) {
	m.mu.Lock()
	m.calls["ConstructEvent"]++
	secret := m.WebhookSecret
	m.mu.Unlock()

	if secret != "" && signature != secret {
		return nil, ErrInvalidSignature
	}

	var raw memoryEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("billing: parse event: %w", err)
	}
	return &Event{ID: raw.ID, Type: raw.Type, Subscription: raw.Data.Object}, nil
}

func (m *MemoryProvider) hasCustomer(customerID string) bool {
	for _, id := range m.customers {
		if id == customerID {
			return true
		}
	}
	return false
}
