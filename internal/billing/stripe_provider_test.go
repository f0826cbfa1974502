package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

type stripeRequest struct {
	Method         string
	Path           string
	Form           url.Values
	IdempotencyKey string
}

type stripeCustomer struct {
	ID         string
	Email      string
	ExternalID string
}

type idempotentResponse struct {
	form   url.Values
	status int
	body   []byte
}

// fakeStripe serves the subset of the Stripe API used by StripeProvider.
// Idempotency keys on POST /v1/customers and /v1/subscriptions behave like
// Stripe: the first response is replayed, failures included, and a key reused
// with different parameters is rejected.
type fakeStripe struct {
	mu sync.Mutex

	customers []*stripeCustomer
	requests  []stripeRequest
	responses map[string]idempotentResponse
	nextID    int

	// searchLag hides customers from search, as right after creation
	searchLag bool
	// declineCards fails subscription creation with a card error
	declineCards bool
}

func newFakeStripe(t *testing.T) (*fakeStripe, *StripeProvider) {
	t.Helper()
	f := &fakeStripe{responses: make(map[string]idempotentResponse)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	api := client.New("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return f, &StripeProvider{api: api, webhookSecret: "whsec_test"}
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	req := stripeRequest{
		Method:         r.Method,
		Path:           r.URL.Path,
		Form:           r.Form,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	f.requests = append(f.requests, req)

	idempotent := r.Method == http.MethodPost && (r.URL.Path == "/v1/customers" || r.URL.Path == "/v1/subscriptions")
	if idempotent && req.IdempotencyKey != "" {
		if prev, ok := f.responses[req.IdempotencyKey]; ok {
			if prev.form.Encode() != r.PostForm.Encode() {
				writeStripeJSON(w, http.StatusBadRequest, stripeError("idempotency_error", "",
					"Keys for idempotent requests can only be used with the same parameters they were first used with."))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(prev.status)
			w.Write(prev.body)
			return
		}
	}

	status, body := f.route(r)
	data, _ := json.Marshal(body)
	if idempotent && req.IdempotencyKey != "" {
		f.responses[req.IdempotencyKey] = idempotentResponse{form: r.PostForm, status: status, body: data}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (f *fakeStripe) route(r *http.Request) (int, any) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/customers/search":
		return http.StatusOK, f.search(r.Form.Get("query"))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
		f.nextID++
		c := &stripeCustomer{
			ID:         fmt.Sprintf("cus_%d", f.nextID),
			Email:      r.PostForm.Get("email"),
			ExternalID: r.PostForm.Get("metadata[supabase_id]"),
		}
		f.customers = append(f.customers, c)
		return http.StatusOK, customerJSON(c)
	case parts[0] == "customers" && len(parts) == 2:
		c := f.customer(parts[1])
		if c == nil {
			return http.StatusNotFound, stripeError("invalid_request_error", "resource_missing", "No such customer: '"+parts[1]+"'")
		}
		if r.Method == http.MethodPost && r.PostForm.Has("email") {
			c.Email = r.PostForm.Get("email")
		}
		return http.StatusOK, customerJSON(c)
	case r.Method == http.MethodPost && parts[0] == "payment_methods" && len(parts) == 3 && parts[2] == "attach":
		return http.StatusOK, map[string]any{"id": parts[1], "object": "payment_method", "customer": r.PostForm.Get("customer")}
	case r.Method == http.MethodPost && r.URL.Path == "/v1/subscriptions":
		if f.declineCards {
			return http.StatusPaymentRequired, stripeError("card_error", "card_declined", "Your card was declined.")
		}
		f.nextID++
		status := "active"
		var trialEnd int64
		if r.PostForm.Get("trial_period_days") != "" {
			status = "trialing"
			trialEnd = 1_700_604_800
		}
		return http.StatusOK, subscriptionJSON(fmt.Sprintf("sub_%d", f.nextID), r.PostForm.Get("customer"), status, false, trialEnd)
	case r.Method == http.MethodPost && parts[0] == "subscriptions" && len(parts) == 2:
		return http.StatusOK, subscriptionJSON(parts[1], "cus_1", "active", r.PostForm.Get("cancel_at_period_end") == "true", 0)
	}
	return http.StatusNotFound, stripeError("invalid_request_error", "", "Unrecognized request URL")
}

func (f *fakeStripe) search(query string) map[string]any {
	data := []any{}
	prefix := "metadata['supabase_id']:'"
	if !f.searchLag && strings.HasPrefix(query, prefix) {
		externalID := strings.TrimSuffix(strings.TrimPrefix(query, prefix), "'")
		for _, c := range f.customers {
			if c.ExternalID == externalID {
				data = append(data, customerJSON(c))
			}
		}
	}
	return map[string]any{"object": "search_result", "url": "/v1/customers/search", "has_more": false, "data": data}
}

func (f *fakeStripe) customer(id string) *stripeCustomer {
	for _, c := range f.customers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeStripe) calls(method, path string) []stripeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stripeRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStripe) customerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers)
}

func customerJSON(c *stripeCustomer) map[string]any {
	return map[string]any{
		"id":       c.ID,
		"object":   "customer",
		"email":    c.Email,
		"metadata": map[string]string{"supabase_id": c.ExternalID},
	}
}

func subscriptionJSON(id, customer, status string, cancelAtPeriodEnd bool, trialEnd int64) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"trial_end":            trialEnd,
		"items": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":                   "si_1",
				"object":               "subscription_item",
				"current_period_start": 1_700_000_000,
				"current_period_end":   1_702_592_000,
				"price":                map[string]any{"id": "price_monthly", "object": "price"},
			}},
		},
	}
}

func stripeError(typ, code, message string) map[string]any {
	return map[string]any{"error": map[string]any{"type": typ, "code": code, "message": message}}
}

func writeStripeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestStripeResolveCustomerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)

	first, err := p.ResolveCustomer(ctx, "user-uuid-1", "a@example.com")
	require.NoError(t, err)
	second, err := p.ResolveCustomer(ctx, "user-uuid-1", "b@example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.customerCount())

	creates := fake.calls(http.MethodPost, "/v1/customers")
	require.Len(t, creates, 1)
	assert.Equal(t, "user-uuid-1", creates[0].Form.Get("metadata[supabase_id]"))
	assert.Equal(t, "a@example.com", creates[0].Form.Get("email"))

	searches := fake.calls(http.MethodGet, "/v1/customers/search")
	require.Len(t, searches, 2)
	assert.Equal(t, "metadata['supabase_id']:'user-uuid-1'", searches[0].Form.Get("query"))

	updates := fake.calls(http.MethodPost, "/v1/customers/"+first)
	require.Len(t, updates, 1)
	assert.Equal(t, "b@example.com", updates[0].Form.Get("email"))
}

func TestStripeResolveCustomerBeforeSearchCatchesUp(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)
	fake.searchLag = true

	first, err := p.ResolveCustomer(ctx, "user-uuid-1", "a@example.com")
	require.NoError(t, err)
	second, err := p.ResolveCustomer(ctx, "user-uuid-1", "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.customerCount())
}

func TestStripeResolveCustomerByID(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)

	customerID, err := p.ResolveCustomer(ctx, "user-uuid-1", "a@example.com")
	require.NoError(t, err)

	again, err := p.ResolveCustomer(ctx, customerID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, customerID, again)
	assert.Equal(t, 1, fake.customerCount())
	assert.Len(t, fake.calls(http.MethodGet, "/v1/customers/"+customerID), 1)
}

func TestStripeAttachPaymentMethod(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)
	customerID, err := p.ResolveCustomer(ctx, "user-uuid-1", "a@example.com")
	require.NoError(t, err)

	require.NoError(t, p.AttachPaymentMethod(ctx, customerID, "pm_card_visa"))

	attach := fake.calls(http.MethodPost, "/v1/payment_methods/pm_card_visa/attach")
	require.Len(t, attach, 1)
	assert.Equal(t, customerID, attach[0].Form.Get("customer"))

	updates := fake.calls(http.MethodPost, "/v1/customers/"+customerID)
	require.Len(t, updates, 1)
	assert.Equal(t, "pm_card_visa", updates[0].Form.Get("invoice_settings[default_payment_method]"))
}

func TestStripeCreateSubscription(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)

	sub, err := p.CreateSubscription(ctx, CreateSubscriptionParams{
		CustomerID:      "cus_1",
		PriceID:         "price_monthly",
		TrialPeriodDays: 7,
		IdempotencyKey:  "attempt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "trialing", sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, int64(1_700_604_800), sub.TrialEnd)
	assert.Less(t, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)

	creates := fake.calls(http.MethodPost, "/v1/subscriptions")
	require.Len(t, creates, 1)
	form := creates[0].Form
	assert.Equal(t, "cus_1", form.Get("customer"))
	assert.Equal(t, "price_monthly", form.Get("items[0][price]"))
	assert.Equal(t, "7", form.Get("trial_period_days"))
	assert.Equal(t, "latest_invoice.confirmation_secret", form.Get("expand[0]"))
	assert.Equal(t, "attempt-1", creates[0].IdempotencyKey)
}

func TestStripeCreateSubscriptionWithoutTrial(t *testing.T) {
	fake, p := newFakeStripe(t)

	sub, err := p.CreateSubscription(context.Background(), CreateSubscriptionParams{CustomerID: "cus_1", PriceID: "price_monthly"})
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)

	creates := fake.calls(http.MethodPost, "/v1/subscriptions")
	require.Len(t, creates, 1)
	assert.False(t, creates[0].Form.Has("trial_period_days"))
}

func TestStripeReusedIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	fake, p := newFakeStripe(t)
	fake.declineCards = true

	_, err := p.CreateSubscription(ctx, CreateSubscriptionParams{CustomerID: "cus_1", PriceID: "price_monthly", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Your card was declined.")

	fake.declineCards = false
	_, err = p.CreateSubscription(ctx, CreateSubscriptionParams{CustomerID: "cus_2", PriceID: "price_monthly", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)

	sub, err := p.CreateSubscription(ctx, CreateSubscriptionParams{CustomerID: "cus_2", PriceID: "price_monthly", IdempotencyKey: "k2"})
	require.NoError(t, err)
	assert.Equal(t, "cus_2", sub.CustomerID)
}

func TestStripeSetCancelAtPeriodEnd(t *testing.T) {
	fake, p := newFakeStripe(t)

	sub, err := p.SetCancelAtPeriodEnd(context.Background(), "sub_9", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	updates := fake.calls(http.MethodPost, "/v1/subscriptions/sub_9")
	require.Len(t, updates, 1)
	assert.Equal(t, "true", updates[0].Form.Get("cancel_at_period_end"))
}
