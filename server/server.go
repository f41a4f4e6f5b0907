package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/checkout/internal/config"
	"github.com/gitshopapp/checkout/internal/handlers"
	"github.com/gitshopapp/checkout/internal/observability"
)

// ShutdownTimeout bounds graceful shutdown of in-flight requests.
const ShutdownTimeout = 30 * time.Second

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.Handle("/metrics", observability.MetricsHandler()).Methods("GET").Name("metrics")

	// Provider callbacks authenticate by signature, not session.
	webhooks := r.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(h.MetricsContext)
	webhooks.HandleFunc("/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")
	webhooks.HandleFunc("/whish", h.WhishWebhook).Methods("POST").Name("webhooks.whish")
	webhooks.HandleFunc("/areeba", h.AreebaWebhook).Methods("POST").Name("webhooks.areeba")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"NOT_FOUND","message":"Route not found"}}`))
	})

	api := r.NewRoute().Subrouter()
	api.Use(h.SessionMiddleware)
	api.Use(h.MetricsContext)
	api.Use(h.RequireUser)
	api.Use(h.RequireSameOrigin)
	api.HandleFunc("/auth/logout", h.Logout).Methods("POST").Name("auth.logout")
	api.HandleFunc("/orders", h.CreateOrder).Methods("POST").Name("orders.create")
	api.HandleFunc("/orders", h.ListOrders).Methods("GET").Name("orders.list")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	api.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST").Name("orders.cancel")
	api.HandleFunc("/payment/verify-stripe-session", h.VerifyStripeSession).Methods("GET").Name("payment.verify_stripe_session")

	checkout := api.PathPrefix("/checkout").Subrouter()
	checkout.Use(h.RateLimit)
	checkout.HandleFunc("/create-payment-intent", h.CreatePaymentIntent).Methods("POST").Name("checkout.create_payment_intent")
	checkout.HandleFunc("/confirm-payment", h.ConfirmPayment).Methods("POST").Name("checkout.confirm_payment")
	checkout.HandleFunc("/payment-status/{orderId}", h.PaymentStatus).Methods("GET").Name("checkout.payment_status")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/orders/{id}/status", h.AdminUpdateOrderStatus).Methods("PUT").Name("admin.orders.status")
	admin.HandleFunc("/orders/{id}/refund", h.AdminRefundOrder).Methods("POST").Name("admin.orders.refund")
	admin.HandleFunc("/orders/{id}/mark-paid", h.AdminMarkPaid).Methods("POST").Name("admin.orders.mark_paid")

	return r
}
