package main

import (
	"log"

	"subscription-api/internal/api"
	"subscription-api/internal/billing"
	"subscription-api/internal/config"
	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/middleware"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging(logging.Options{
		Service: cfg.ServiceName,
		Level:   cfg.LogLevel,
		JSON:    cfg.IsRelease(),
	})

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	handler := buildHandler(cfg)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(handler.Metrics))

	// Setup routes
	api.SetupRoutes(r, handler)

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func buildHandler(cfg *config.Config) *api.Handler {
	collector := metrics.NewCollector("subscription_api")

	var provider billing.Provider
	if cfg.StripeSecretKey != "" {
		provider = billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		logging.Warnf("STRIPE_SECRET_KEY not set, using the in-memory billing provider")
		mem := billing.NewMemoryProvider()
		mem.WebhookSecret = cfg.StripeWebhookSecret
		provider = mem
	}

	redisClient := database.GetRedis()
	profiles := database.NewProfileStore(database.GetDB())

	var email services.EmailSender
	if cfg.BrevoAPIKey != "" {
		email = services.NewBrevoSender(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName)
	} else {
		logging.Warnf("BREVO_API_KEY not set, lifecycle emails are disabled")
	}
	notifier := services.NewNotificationService(
		email,
		services.NewWebhookNotifier(cfg.LifecycleWebhookURL, cfg.LifecycleWebhookSecret),
		cfg.ServiceName,
	)

	dashboard := services.NewDashboardService(profiles, redisClient, cfg.DashboardCacheTTL, services.PlanPricing{
		MonthlyID:    cfg.MonthlyPriceID,
		MonthlyPrice: cfg.MonthlyPrice,
		YearlyID:     cfg.YearlyPriceID,
		YearlyPrice:  cfg.YearlyPrice,
	})

	subscriptions := services.NewSubscriptionService(services.SubscriptionServiceConfig{
		Provider:          provider,
		Profiles:          profiles,
		Idempotency:       services.NewIdempotencyService(redisClient, cfg.IdempotencyTTL),
		Notifier:          notifier,
		Metrics:           collector,
		Cache:             dashboard,
		DefaultTrialDays:  cfg.DefaultTrialDays,
		EagerCancelStatus: cfg.EagerCancelStatus,
	})

	plans := services.PlanCatalog(cfg.MonthlyPriceID, cfg.MonthlyPrice, cfg.YearlyPriceID, cfg.YearlyPrice)

	return &api.Handler{
		Subscriptions: subscriptions,
		Signup:        services.NewSignupService(subscriptions, profiles, plans, dashboard),
		Accounts:      services.NewAccountService(provider, profiles, cfg.AppURL),
		Dashboard:     dashboard,
		Webhooks:      services.NewWebhookService(provider, subscriptions, services.NewReplayProtection(redisClient), collector),
		Sessions:      services.NewSessionService(cfg.JWTSecret, cfg.JWTAudience, profiles),
		Metrics:       collector,
		RateLimiter:   middleware.NewIPRateLimiter(cfg.RateLimitPerMinute),
		ServiceName:   cfg.ServiceName,
	}
}
