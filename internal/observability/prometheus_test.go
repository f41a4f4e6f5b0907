package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesCheckoutCollectors(t *testing.T) {
	RecordOrder("created")
	RecordCheckout(context.Background(), "card", "payment.confirmed")
	RecordReaper("cancelled", 2)
	RecordReaper("failed", 0)
	RecordNotification("order.confirmed", "delivered")
	ObserveHTTPRequest("orders.create", http.MethodPost, http.StatusCreated, 25*time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`checkout_orders_total{outcome="created"}`,
		`checkout_payments_total{outcome="payment_confirmed",provider="card"}`,
		`checkout_reaper_orders_total{outcome="cancelled"} 2`,
		`checkout_notifications_total{kind="order.confirmed",outcome="delivered"}`,
		`checkout_http_request_duration_seconds_count{method="POST",route="orders.create",status="201"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `checkout_reaper_orders_total{outcome="failed"}`) {
		t.Fatal("zero-count reaper outcome should not be recorded")
	}
}
