package observability

import (
	"context"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestMeterFromContext(t *testing.T) {
	t.Parallel()

	if MeterFromContext(context.Background()) == nil {
		t.Fatal("expected a detached meter outside requests")
	}

	ctx := WithMeter(context.Background(), nil)
	if _, ok := ctx.Value(meterKey{}).(sentry.Meter); !ok {
		t.Fatal("WithMeter(nil) did not store a meter")
	}
	if MeterFromContext(ctx) == nil {
		t.Fatal("expected the stored meter")
	}
}
