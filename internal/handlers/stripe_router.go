package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/payment"
	"github.com/gitshopapp/checkout/internal/services"
	stripegateway "github.com/gitshopapp/checkout/internal/stripe"
)

// WebhookEventApplier feeds a verified provider event into the payment flow.
type WebhookEventApplier interface {
	ApplyWebhookEvent(ctx context.Context, kind payment.Kind, event *payment.WebhookEvent) error
}

type StripeEventRouter struct {
	payments WebhookEventApplier
	logger   *slog.Logger
}

func NewStripeEventRouter(payments WebhookEventApplier, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{
		payments: payments,
		logger:   logger,
	}
}

func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) error {
	span := sentry.StartSpan(
		ctx,
		"handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return fmt.Errorf("missing stripe event")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)

	outcome, err := stripegateway.ParseEvent(event)
	if errors.Is(err, stripegateway.ErrUnhandledEvent) {
		logger.Info("unhandled Stripe event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	}
	if err != nil {
		recordFailed("parse_failed")
		return err
	}

	if err := r.payments.ApplyWebhookEvent(ctx, payment.KindCard, outcome); err != nil {
		// A late event for an order that already moved on is acknowledged.
		if errors.Is(err, services.ErrInvalidState) || errors.Is(err, services.ErrNotFound) {
			logger.Warn("stripe event does not apply to current order state", "type", event.Type, "error", err)
			meter.Count("webhook.router.ignored", 1)
			span.Status = sentry.SpanStatusOK
			return nil
		}
		recordFailed("apply_failed")
		return err
	}

	meter.Count("webhook.router.processed", 1)
	span.Status = sentry.SpanStatusOK
	return nil
}
