package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/catalog"
	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/email"
	"github.com/gitshopapp/checkout/internal/handlers"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/payment"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/session"
	"github.com/gitshopapp/checkout/internal/stripe"
)

const sentryFlushTimeout = 2 * time.Second

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	DB             *pgxpool.Pool
	Redis          *redis.Client
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Dispatcher     *services.Dispatcher
	Reaper         *services.Reaper
	Handlers       *handlers.Handlers

	sentryEnabled bool
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			EnableLogs:       true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		a.sentryEnabled = true
	}
	a.Logger = newLogger(cfg, os.Stdout)

	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.Config
	logger := a.Logger

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.DB = database

	if cfg.CacheProvider == "redis" || cfg.SessionStoreProvider == "redis" {
		a.Redis, err = cache.ConnectRedis(startupCtx, cfg.RedisConnectionString)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	a.CacheProvider, err = cache.NewProvider(cache.Config{Provider: cfg.CacheProvider, Redis: a.Redis})
	if err != nil {
		return fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	sessionStore, err := session.NewStore(session.Config{Provider: cfg.SessionStoreProvider, Redis: a.Redis})
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.SessionManager = session.NewManager(sessionStore, handlers.SecureCookiesFromConfig(cfg), cfg.AuthJWTSecret)

	stores := services.NewPostgresStores(database, logger.With("component", "db"))

	if seedFile := strings.TrimSpace(cfg.CatalogSeedFile); seedFile != "" {
		syncer := catalog.NewSyncer(stores.Tx, db.NewProductStore(), logger)
		if _, err := syncer.SyncFile(startupCtx, seedFile); err != nil {
			return err
		}
	}

	gateways, card, err := newGatewayRegistry(cfg, logger)
	if err != nil {
		return err
	}
	var stripeEvents handlers.StripeEventReader
	if card != nil {
		stripeEvents = card
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.EmailDomain,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize email provider: %w", err)
	}
	notifier, err := services.NewEmailNotifier(emailProvider, services.StoreInfo{
		Name:     cfg.StoreName,
		URL:      cfg.BaseURL,
		Currency: cfg.Currency,
	}, logger.With("component", "email_notifier"))
	if err != nil {
		return err
	}
	a.Dispatcher = services.NewDispatcher(notifier, logger, 0)

	orderService := services.NewOrderService(stores, gateways, services.Pricing{
		ShippingFeeCents:           cfg.ShippingFeeCents,
		FreeShippingThresholdCents: cfg.FreeShippingThresholdCents,
		TaxRate:                    cfg.TaxRate,
	}, a.Dispatcher, logger.With("component", "order_service"))
	paymentOrchestrator := services.NewPaymentOrchestrator(stores, gateways, cfg.Currency, a.Dispatcher, logger.With("component", "payment_orchestrator"))
	a.Reaper = services.NewReaper(stores, services.ReaperConfig{
		TTL:       cfg.AbandonedOrderTTL,
		Interval:  cfg.ReaperInterval,
		BatchSize: cfg.ReaperBatchSize,
	}, a.Dispatcher, logger)

	limiter, err := handlers.NewRateLimiter(cfg.CheckoutRateLimit, cfg.CheckoutRateBurst)
	if err != nil {
		return err
	}
	a.Handlers, err = handlers.New(handlers.Dependencies{
		Config:         cfg,
		DB:             database,
		CacheProvider:  a.CacheProvider,
		SessionManager: a.SessionManager,
		Orders:         orderService,
		Payments:       paymentOrchestrator,
		StripeEvents:   stripeEvents,
		StripeRouter:   handlers.NewStripeEventRouter(paymentOrchestrator, logger.With("component", "stripe_router")),
		RateLimiter:    limiter,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	return nil
}

// newGatewayRegistry wires every payment method and returns the card gateway
// when Stripe is configured. The HTTP gateways issue flagged test intents
// until configured, except in production where they stay unregistered.
func newGatewayRegistry(cfg *config.Config, logger *slog.Logger) (*payment.Registry, *stripe.Gateway, error) {
	httpGateways := []interface {
		payment.Gateway
		Configured() bool
	}{
		payment.NewRedirectGateway(payment.RedirectConfig{
			APIURL:       cfg.WhishAPIURL,
			MerchantID:   cfg.WhishMerchantID,
			APIKey:       cfg.WhishAPIKey,
			Secret:       cfg.WhishSecret,
			AppBaseURL:   cfg.BaseURL,
			TestFallback: cfg.PaymentTestFallback,
			Logger:       logger,
		}),
		payment.NewHostedCheckoutGateway(payment.HostedCheckoutConfig{
			APIURL:        cfg.AreebaAPIURL,
			MerchantID:    cfg.AreebaMerchantID,
			APIPassword:   cfg.AreebaAPIPassword,
			APIVersion:    cfg.AreebaAPIVersion,
			WebhookSecret: cfg.AreebaWebhookSecret,
			AppBaseURL:    cfg.BaseURL,
			TestFallback:  cfg.PaymentTestFallback,
			Logger:        logger,
		}),
	}

	gateways := []payment.Gateway{payment.NewCashGateway()}
	for _, gateway := range httpGateways {
		if !gateway.Configured() && cfg.Production() {
			logger.Warn("payment gateway credentials not set, method disabled in production", "kind", gateway.Kind())
			continue
		}
		gateways = append(gateways, gateway)
	}

	var card *stripe.Gateway
	if cfg.StripeSecretKey != "" {
		var err error
		card, err = stripe.NewGateway(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.BaseURL,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize stripe gateway: %w", err)
		}
		gateways = append(gateways, card)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments are unavailable")
	}

	registry := payment.NewRegistry(gateways...)
	logger.Info("payment gateways registered", "kinds", registry.Kinds())
	return registry, card, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.SessionManager != nil {
		closeSessionManager(a.Logger, a.SessionManager)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.sentryEnabled {
		sentry.Flush(sentryFlushTimeout)
	}
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
	default:
		handler = tint.NewHandler(out, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN != "" {
		sentryHandler := sentryslog.Option{
			EventLevel: []slog.Level{slog.LevelError},
			LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
		}.NewSentryHandler(context.Background())
		handler = logging.MultiHandler(handler, sentryHandler)
	}
	return slog.New(handler)
}

func closeSessionManager(logger *slog.Logger, manager *session.Manager) {
	if manager == nil {
		return
	}
	if err := manager.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session manager", "error", err)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
