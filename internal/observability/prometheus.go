package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	ordersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "orders_total",
		Help:      "Order lifecycle events by outcome.",
	}, []string{"outcome"})

	paymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "payments_total",
		Help:      "Payment operations by provider and outcome.",
	}, []string{"provider", "outcome"})

	reaperOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "reaper_orders_total",
		Help:      "Abandoned orders handled by the reaper.",
	}, []string{"outcome"})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "notifications_total",
		Help:      "Notification deliveries by kind and outcome.",
	}, []string{"kind", "outcome"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ordersTotal,
		paymentsTotal,
		reaperOrdersTotal,
		notificationsTotal,
		httpRequestDuration,
	)
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func RecordOrder(outcome string) {
	ordersTotal.WithLabelValues(outcome).Inc()
}

func RecordReaper(outcome string, count int) {
	if count <= 0 {
		return
	}
	reaperOrdersTotal.WithLabelValues(outcome).Add(float64(count))
}

func RecordNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
