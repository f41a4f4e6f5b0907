package observability

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

// checkoutMetricPrefix namespaces payment flow metrics in Sentry. The same
// events feed checkout_payments_total with dots turned into underscores.
const checkoutMetricPrefix = "checkout."

type meterKey struct{}

// WithMeter stores a request meter in ctx. A nil meter stores a fresh one.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request meter bound to ctx. Outside a request,
// such as in the reaper or the notification dispatcher, it returns a detached
// meter without request attributes.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	meter, _ := ctx.Value(meterKey{}).(sentry.Meter)
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return meter.WithCtx(ctx)
}

// RecordCheckout counts one payment flow event for provider, e.g.
// "intent.created" or "refund.failed", in both Sentry and Prometheus.
func RecordCheckout(ctx context.Context, provider, event string, attrs ...attribute.Builder) {
	attrs = append(attrs, attribute.String("provider", provider))
	MeterFromContext(ctx).Count(checkoutMetricPrefix+event, 1, sentry.WithAttributes(attrs...))
	paymentsTotal.WithLabelValues(provider, strings.ReplaceAll(event, ".", "_")).Inc()
}
