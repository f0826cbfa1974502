package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignupFixture(t *testing.T) (*SignupService, *billing.MemoryProvider, *database.ProfileStore) {
	t.Helper()
	provider := billing.NewMemoryProvider()
	store := newTestStore(t)
	require.NoError(t, store.SaveProfile(context.Background(), &models.Profile{
		ID:       "user-1",
		Email:    "user-1@example.com",
		FullName: "User One",
	}))

	plans := PlanCatalog("price_monthly", 29.99, "price_yearly", 299.99)
	svc := NewSignupService(newSubscriptionService(provider, store), store, plans, nil)
	return svc, provider, store
}

func TestPlanCatalog(t *testing.T) {
	plans := PlanCatalog("price_monthly", 29.99, "price_yearly", 299.99)

	require.Len(t, plans, 2)
	assert.Equal(t, models.Plan{ID: "price_monthly", Name: "Monthly", Interval: "month", Price: 29.99}, plans[0])
	assert.Equal(t, "year", plans[1].Interval)
}

func TestCompleteSignupWritesTrialingProfile(t *testing.T) {
	ctx := context.Background()
	svc, provider, store := newSignupFixture(t)

	result, err := svc.CompleteSignup(ctx, &Session{UserID: "user-1"}, SignupInput{
		PaymentMethodID: "pm_card_visa",
		PlanID:          "price_yearly",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrialing, result.Subscription.Status)
	assert.True(t, result.ProfileUpdated)

	live, err := provider.GetSubscription(ctx, result.Subscription.ID)
	require.NoError(t, err)

	profile, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, profile.SubscriptionID)
	assert.Equal(t, result.Subscription.ID, *profile.SubscriptionID)
	assert.Equal(t, models.StatusTrialing, profile.SubscriptionStatus)
	assert.Equal(t, "price_yearly", profile.PlanID)
	assert.Equal(t, result.Subscription.ProviderCustomerID, profile.StripeCustomerID)
	require.NotNil(t, profile.TrialEnd)
	assert.True(t, time.Unix(live.TrialEnd, 0).Equal(*profile.TrialEnd))
}

func TestCompleteSignupAfterCancellation(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	provider := billing.NewMemoryProvider()
	store := newTestStore(t)
	require.NoError(t, store.SaveProfile(ctx, &models.Profile{ID: "user-1", Email: "user-1@example.com"}))
	subscriptions := newSubscriptionService(provider, store, func(cfg *SubscriptionServiceConfig) {
		cfg.Idempotency = NewIdempotencyService(client, time.Hour)
	})
	svc := NewSignupService(subscriptions, store, PlanCatalog("price_monthly", 29.99, "price_yearly", 299.99), nil)
	session := &Session{UserID: "user-1"}
	in := SignupInput{PaymentMethodID: "pm_card_visa", PlanID: "price_monthly"}

	first, err := svc.CompleteSignup(ctx, session, in)
	require.NoError(t, err)

	require.NoError(t, provider.SetStatus(first.Subscription.ID, models.StatusCanceled))
	ended, err := provider.GetSubscription(ctx, first.Subscription.ID)
	require.NoError(t, err)
	require.NoError(t, subscriptions.Reconcile(ctx, ended))

	second, err := svc.CompleteSignup(ctx, session, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.Subscription.ID, second.Subscription.ID)
	assert.Equal(t, models.StatusTrialing, second.Subscription.Status)
	assert.True(t, second.ProfileUpdated)

	// a late event for the old subscription no longer matches the profile
	require.NoError(t, subscriptions.Reconcile(ctx, ended))

	profile, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, profile.SubscriptionID)
	assert.Equal(t, second.Subscription.ID, *profile.SubscriptionID)
	assert.Equal(t, models.StatusTrialing, profile.SubscriptionStatus)
}

func TestCompleteSignupUnknownPlan(t *testing.T) {
	svc, provider, _ := newSignupFixture(t)

	_, err := svc.CompleteSignup(context.Background(), &Session{UserID: "user-1"}, SignupInput{
		PaymentMethodID: "pm_card_visa",
		PlanID:          "price_lifetime",
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, provider.TotalCalls())
}

func TestCompleteSignupUsesSessionEmailWithoutProfile(t *testing.T) {
	svc, provider, _ := newSignupFixture(t)

	result, err := svc.CompleteSignup(context.Background(), &Session{UserID: "user-2", Email: "two@example.com"}, SignupInput{
		PaymentMethodID: "pm_card_visa",
		PlanID:          "price_monthly",
	})
	require.NoError(t, err)
	// no profile row to update
	assert.False(t, result.ProfileUpdated)
	assert.Equal(t, 1, provider.Calls("CreateSubscription"))
}

func TestCompleteSignupRequiresEmail(t *testing.T) {
	svc, provider, _ := newSignupFixture(t)

	_, err := svc.CompleteSignup(context.Background(), &Session{UserID: "user-2"}, SignupInput{
		PaymentMethodID: "pm_card_visa",
		PlanID:          "price_monthly",
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, provider.TotalCalls())
}

func TestCompleteSignupIncompleteLeavesProfile(t *testing.T) {
	ctx := context.Background()
	svc, provider, store := newSignupFixture(t)
	provider.CreateStatus = models.StatusIncomplete

	result, err := svc.CompleteSignup(ctx, &Session{UserID: "user-1"}, SignupInput{
		PaymentMethodID: "pm_card_threeds",
		PlanID:          "price_monthly",
		TrialPeriodDays: int64Ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusIncomplete, result.Subscription.Status)
	assert.NotEmpty(t, result.Subscription.ClientSecret)
	assert.False(t, result.ProfileUpdated)

	profile, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, profile.SubscriptionID)
}

func TestCompleteSignupProfileFailureIsSwallowed(t *testing.T) {
	provider := billing.NewMemoryProvider()
	store := newTestStore(t)
	require.NoError(t, store.SaveProfile(context.Background(), &models.Profile{ID: "user-1", Email: "user-1@example.com"}))
	profiles := failingProfiles{ProfileRepository: store, err: errors.New("read-only transaction")}

	plans := PlanCatalog("price_monthly", 29.99, "price_yearly", 299.99)
	svc := NewSignupService(newSubscriptionService(provider, profiles), profiles, plans, nil)

	result, err := svc.CompleteSignup(context.Background(), &Session{UserID: "user-1"}, SignupInput{
		PaymentMethodID: "pm_card_visa",
		PlanID:          "price_monthly",
	})
	require.NoError(t, err)
	assert.False(t, result.ProfileUpdated)
	assert.Equal(t, models.StatusTrialing, result.Subscription.Status)
}
