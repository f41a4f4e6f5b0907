package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/payment"
	"github.com/gitshopapp/checkout/internal/services"
)

const (
	whishSignatureHeader  = "X-Signature"
	areebaSignatureHeader = "X-Notification-Secret"
)

func (h *Handlers) WhishWebhook(w http.ResponseWriter, r *http.Request) {
	h.providerWebhook(w, r, payment.KindRedirect, whishSignatureHeader)
}

func (h *Handlers) AreebaWebhook(w http.ResponseWriter, r *http.Request) {
	h.providerWebhook(w, r, payment.KindHosted, areebaSignatureHeader)
}

// providerWebhook verifies and applies a notification from an HTTP gateway.
// Repeated deliveries are harmless because confirmation is idempotent.
func (h *Handlers) providerWebhook(w http.ResponseWriter, r *http.Request, kind payment.Kind, signatureHeader string) {
	ctx := logging.WithAttrs(r.Context(), h.logger, "provider", kind.String())
	logger := h.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", kind.String()))

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	err = h.payments.HandleWebhook(ctx, kind, payload, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		meter.Count("webhook.processed", 1)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, services.ErrSecurity):
		meter.Count("webhook.rejected", 1, sentry.WithAttributes(attribute.String("reason", "invalid_signature")))
		logger.Warn("rejected webhook with invalid signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrNotFound):
		meter.Count("webhook.ignored", 1)
		logger.Warn("webhook does not apply to current order state", "error", err)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, services.ErrValidation):
		logger.Warn("malformed webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
	default:
		meter.Count("webhook.failed", 1)
		logger.Error("failed to process webhook", "error", err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
	}
}
