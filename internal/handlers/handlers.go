package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/payment"
	"github.com/gitshopapp/checkout/internal/services"
	"github.com/gitshopapp/checkout/internal/session"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OrderService is the order lifecycle surface the HTTP layer drives.
type OrderService interface {
	Create(ctx context.Context, input services.CreateOrderInput) (*db.Order, error)
	Get(ctx context.Context, orderID, requesterID uuid.UUID, includePending bool) (*db.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*db.Order, error)
	Cancel(ctx context.Context, orderID, requesterID uuid.UUID, reason string) (*db.Order, error)
	UpdateStatus(ctx context.Context, input services.UpdateStatusInput) (*db.Order, error)
}

// PaymentService is the payment surface the HTTP layer drives.
type PaymentService interface {
	CreateOrReuseIntent(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Payment, error)
	Confirm(ctx context.Context, providerPaymentID string, requesterID uuid.UUID) (*services.ConfirmResult, error)
	PaymentStatus(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Payment, error)
	VerifyStripeSession(ctx context.Context, sessionID string, requesterID uuid.UUID) (*services.SessionVerification, error)
	HandleWebhook(ctx context.Context, kind payment.Kind, payload []byte, signature string) error
	ApplyWebhookEvent(ctx context.Context, kind payment.Kind, event *payment.WebhookEvent) error
	MarkCashCollected(ctx context.Context, orderID uuid.UUID) (*services.ConfirmResult, error)
	Refund(ctx context.Context, orderID uuid.UUID, amountCents int64) (*services.RefundResult, error)
}

// StripeEventReader reads and verifies a Stripe webhook delivery.
type StripeEventReader interface {
	ReadEvent(r *http.Request) (*stripeapi.Event, error)
}

// Handlers provides the checkout HTTP API.
type Handlers struct {
	config         *config.Config
	db             Pinger
	cacheProvider  cache.Provider
	sessionManager *session.Manager
	orders         OrderService
	payments       PaymentService
	stripeEvents   StripeEventReader
	stripeRouter   *StripeEventRouter
	limiter        *RateLimiter
	logger         *slog.Logger
}

type Dependencies struct {
	Config         *config.Config
	DB             Pinger
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Orders         OrderService
	Payments       PaymentService
	// StripeEvents is nil when card payments are not configured.
	StripeEvents   StripeEventReader
	StripeRouter   *StripeEventRouter
	RateLimiter    *RateLimiter
	Logger         *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.SessionManager == nil {
		return nil, fmt.Errorf("handlers dependencies: sessionManager is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: orders is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("handlers dependencies: payments is required")
	}
	if deps.StripeRouter == nil {
		return nil, fmt.Errorf("handlers dependencies: stripeRouter is required")
	}

	limiter := deps.RateLimiter
	if limiter == nil {
		var err error
		limiter, err = NewRateLimiter(deps.Config.CheckoutRateLimit, deps.Config.CheckoutRateBurst)
		if err != nil {
			return nil, err
		}
	}

	return &Handlers{
		config:         deps.Config,
		db:             deps.DB,
		cacheProvider:  deps.CacheProvider,
		sessionManager: deps.SessionManager,
		orders:         deps.Orders,
		payments:       deps.Payments,
		stripeEvents:   deps.StripeEvents,
		stripeRouter:   deps.StripeRouter,
		limiter:        limiter,
		logger:         logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// SessionMiddleware adds session data to the request context
func (h *Handlers) SessionMiddleware(next http.Handler) http.Handler {
	return h.sessionManager.Middleware(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func SecureCookiesFromConfig(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			return strings.EqualFold(parsed.Scheme, "https")
		}
	}

	return cfg.Port == "443" || cfg.Port == "8443"
}
