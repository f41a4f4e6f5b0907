package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/cache"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/observability"
	stripegateway "github.com/gitshopapp/checkout/internal/stripe"
)

// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
const stripeWebhookIdempotencyTTL = 24 * time.Hour

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	if h.stripeEvents == nil {
		logger.Error("stripe webhook received but card payments are not configured")
		http.Error(w, "Webhook handler not configured", http.StatusServiceUnavailable)
		return
	}

	event, err := h.stripeEvents.ReadEvent(r)
	switch {
	case err == nil:
	case errors.Is(err, stripegateway.ErrWebhookNotConfigured):
		logger.Error("stripe webhook received but no webhook secret is configured")
		http.Error(w, "Webhook handler not configured", http.StatusServiceUnavailable)
		return
	case errors.Is(err, stripegateway.ErrInvalidSignature):
		meter.Count("webhook.rejected", 1, sentry.WithAttributes(attribute.String("reason", "invalid_signature")))
		logger.Warn("rejected Stripe webhook with invalid signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	default:
		logger.Warn("failed to read Stripe webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	ctx = logging.WithAttrs(ctx, h.logger, "event_id", event.ID, "event_type", string(event.Type))
	logger = h.loggerFromContext(ctx)

	cacheKey := cache.WebhookKey("stripe", event.ID)
	claimed, err := h.cacheProvider.Claim(ctx, cacheKey, "processing", stripeWebhookIdempotencyTTL)
	if err != nil {
		logger.Error("failed to claim webhook event", "error", err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}
	if !claimed {
		logger.Info("webhook already processed")
		meter.Count("webhook.duplicate", 1)
		w.WriteHeader(http.StatusOK)
		return
	}

	if processErr := h.stripeRouter.Handle(ctx, event); processErr != nil {
		// Release the claim so Stripe's retry is processed.
		if err := h.cacheProvider.Delete(ctx, cacheKey); err != nil {
			logger.Error("failed to release webhook claim", "error", err)
		}
		logger.Error("failed to process Stripe webhook", "error", processErr)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.cacheProvider.Set(ctx, cacheKey, "processed", stripeWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
