package services

import (
	"context"
	"sync"
	"testing"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *database.ProfileStore {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database.NewProfileStore(db)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

// failingProfiles reads from a real store but fails every write
type failingProfiles struct {
	ProfileRepository
	err error
}

func (f failingProfiles) ApplySubscription(context.Context, string, models.ProfileSubscription) error {
	return f.err
}

func (f failingProfiles) MirrorBySubscriptionID(context.Context, string, models.SubscriptionMirror) error {
	return f.err
}

func (f failingProfiles) MirrorByUserID(context.Context, string, models.SubscriptionMirror) error {
	return f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *recordingNotifier) Notify(event LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Events() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LifecycleEvent(nil), r.events...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	count int
}

func (c *countingInvalidator) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *countingInvalidator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// subscribe creates a provider subscription and a profile holding it
func subscribe(t *testing.T, provider *billing.MemoryProvider, store *database.ProfileStore, userID string, trialDays int64) *billing.Subscription {
	t.Helper()
	ctx := context.Background()

	customerID, err := provider.ResolveCustomer(ctx, userID, userID+"@example.com")
	require.NoError(t, err)
	sub, err := provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID:      customerID,
		PriceID:         "price_monthly",
		TrialPeriodDays: trialDays,
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveProfile(ctx, &models.Profile{
		ID:                 userID,
		Email:              userID + "@example.com",
		SubscriptionID:     strPtr(sub.ID),
		SubscriptionStatus: sub.Status,
		PlanID:             "price_monthly",
		StripeCustomerID:   customerID,
	}))
	return sub
}
