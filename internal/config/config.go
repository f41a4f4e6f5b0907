package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required" validate:"required"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	BaseURL       string `env:"BASE_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	StoreName     string `env:"STORE_NAME" envDefault:"Checkout"`

	Currency                   string  `env:"CURRENCY" envDefault:"usd" validate:"required,len=3"`
	ShippingFeeCents           int64   `env:"SHIPPING_FEE_CENTS" envDefault:"1000" validate:"min=0"`
	FreeShippingThresholdCents int64   `env:"FREE_SHIPPING_THRESHOLD_CENTS" envDefault:"5000" validate:"min=0"`
	TaxRate                    float64 `env:"TAX_RATE" envDefault:"0.10" validate:"min=0,max=1"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	WhishAPIURL     string `env:"WHISH_API_URL" validate:"omitempty,url"`
	WhishMerchantID string `env:"WHISH_MERCHANT_ID"`
	WhishAPIKey     string `env:"WHISH_API_KEY"`
	WhishSecret     string `env:"WHISH_SECRET"`

	AreebaAPIURL        string `env:"AREEBA_API_URL" validate:"omitempty,url"`
	AreebaMerchantID    string `env:"AREEBA_MERCHANT_ID"`
	AreebaAPIPassword   string `env:"AREEBA_API_PASSWORD"`
	AreebaAPIVersion    string `env:"AREEBA_API_VERSION" envDefault:"57" validate:"omitempty,numeric"`
	AreebaWebhookSecret string `env:"AREEBA_WEBHOOK_SECRET"`

	// PaymentTestFallback substitutes a flagged test intent when a configured
	// provider call fails. Never enable in production.
	PaymentTestFallback bool `env:"PAYMENT_TEST_FALLBACK" envDefault:"false"`

	ReaperInterval    time.Duration `env:"REAPER_INTERVAL" envDefault:"1h" validate:"min=1m"`
	AbandonedOrderTTL time.Duration `env:"ABANDONED_ORDER_TTL" envDefault:"24h" validate:"min=1m"`
	ReaperBatchSize   int           `env:"REAPER_BATCH_SIZE" envDefault:"100" validate:"min=1,max=10000"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`
	AuthJWTSecret         string `env:"AUTH_JWT_SECRET" validate:"omitempty,min=32"`

	EmailProvider string `env:"EMAIL_PROVIDER" validate:"omitempty,oneof=resend postmark mailgun"`
	EmailAPIKey   string `env:"EMAIL_API_KEY" validate:"required_with=EmailProvider"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"required_with=EmailProvider"`
	EmailDomain   string `env:"EMAIL_DOMAIN" validate:"required_if=EmailProvider mailgun"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	CatalogSeedFile string `env:"CATALOG_SEED_FILE"`

	CheckoutRateLimit float64 `env:"CHECKOUT_RATE_LIMIT" envDefault:"5" validate:"gt=0"`
	CheckoutRateBurst int     `env:"CHECKOUT_RATE_BURST" envDefault:"10" validate:"min=1"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if strings.TrimSpace(c.StripeWebhookSecret) != "" && strings.TrimSpace(c.StripeSecretKey) == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET requires STRIPE_SECRET_KEY")
	}
	if strings.TrimSpace(c.StripeSecretKey) != "" && strings.TrimSpace(c.StripeWebhookSecret) == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY requires STRIPE_WEBHOOK_SECRET")
	}

	whish := []string{c.WhishMerchantID, c.WhishAPIKey, c.WhishSecret}
	if !allOrNone(whish) {
		return fmt.Errorf("WHISH_MERCHANT_ID, WHISH_API_KEY and WHISH_SECRET must be set together")
	}
	if !allOrNone([]string{c.AreebaMerchantID, c.AreebaAPIPassword}) {
		return fmt.Errorf("AREEBA_MERCHANT_ID and AREEBA_API_PASSWORD must be set together")
	}

	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("BASE_URL must be a valid absolute URL")
	}
	if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("BASE_URL must use https outside local development")
	}
	if c.PaymentTestFallback && c.Production() {
		return fmt.Errorf("PAYMENT_TEST_FALLBACK cannot be enabled in production")
	}

	return nil
}

// Production reports whether the service runs in the production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.SentryEnvironment), "production")
}

func allOrNone(values []string) bool {
	set := 0
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			set++
		}
	}
	return set == 0 || set == len(values)
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
