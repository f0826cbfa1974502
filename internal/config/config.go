package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port   string `env:"PORT" envDefault:"8080"`
	Mode   string `env:"GIN_MODE" envDefault:"debug"`
	AppURL string `env:"APP_URL" envDefault:"http://localhost:5173"`

	// Database configuration
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"subscription-api.db"`

	// Redis configuration
	RedisURL string `env:"REDIS_URL"`

	// Stripe configuration
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// Auth provider (Supabase) session verification
	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
	JWTAudience string `env:"SUPABASE_JWT_AUDIENCE" envDefault:"authenticated"`

	// Brevo email configuration
	BrevoAPIKey    string `env:"BREVO_API_KEY"`
	BrevoFromEmail string `env:"BREVO_FROM_EMAIL"`
	BrevoFromName  string `env:"BREVO_FROM_NAME" envDefault:"Billing"`

	// Downstream lifecycle webhook
	LifecycleWebhookURL    string `env:"LIFECYCLE_WEBHOOK_URL"`
	LifecycleWebhookSecret string `env:"LIFECYCLE_WEBHOOK_SECRET"`

	ServiceName string `env:"SERVICE_NAME" envDefault:"subscription-api"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Subscription configuration
	DefaultTrialDays  int64   `env:"DEFAULT_TRIAL_DAYS" envDefault:"7"`
	MonthlyPriceID    string  `env:"MONTHLY_PRICE_ID" envDefault:"price_monthly"`
	YearlyPriceID     string  `env:"YEARLY_PRICE_ID" envDefault:"price_yearly"`
	MonthlyPrice      float64 `env:"MONTHLY_PRICE" envDefault:"29.99"`
	YearlyPrice       float64 `env:"YEARLY_PRICE" envDefault:"299.99"`
	EagerCancelStatus bool    `env:"EAGER_CANCEL_STATUS" envDefault:"false"`

	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	DashboardCacheTTL  time.Duration `env:"DASHBOARD_CACHE_TTL" envDefault:"1m"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file; a missing file is fine
	_ = godotenv.Load()

	cfg, err := Load(nil)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load parses configuration from the process environment, or from environ
// when it is non-nil.
func Load(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DefaultTrialDays < 0 {
		return nil, fmt.Errorf("DEFAULT_TRIAL_DAYS must not be negative")
	}
	return cfg, nil
}

// IsRelease reports whether gin runs in release mode
func (c *Config) IsRelease() bool {
	return c.Mode == "release"
}
