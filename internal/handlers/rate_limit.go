package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/gitshopapp/checkout/internal/observability"
)

const rateLimiterClients = 10000

// RateLimiter applies a token bucket per client. Clients are keyed by user
// id when signed in and by IP otherwise; the least recently seen are evicted.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

func NewRateLimiter(perSecond float64, burst int) (*RateLimiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %v", perSecond)
	}
	if burst <= 0 {
		burst = int(math.Ceil(perSecond))
	}
	limiters, err := lru.New[string, *rate.Limiter](rateLimiterClients)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter cache: %w", err)
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: limiters,
	}, nil
}

// Allow reports whether the client may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *RateLimiter) retryAfterSeconds() int {
	return max(1, int(math.Ceil(1/float64(l.limit))))
}

// RateLimit throttles checkout calls per client.
func (h *Handlers) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if sess := h.currentUser(r); sess != nil {
			key = "user:" + sess.UserID.String()
		}

		if !h.limiter.Allow(key) {
			observability.MeterFromContext(r.Context()).Count("http.rate_limited", 1, sentry.WithAttributes(attribute.String("http.route", routeLabel(r))))
			h.loggerFromContext(r.Context()).Warn("rate limit exceeded", "client", key)
			w.Header().Set("Retry-After", strconv.Itoa(h.limiter.retryAfterSeconds()))
			writeErrorCode(w, r, http.StatusTooManyRequests, codeRateLimited, "Too many requests, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
