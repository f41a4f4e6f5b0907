package handlers

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/observability"
)

// SecurityHeaders sets baseline security headers for all responses. Checkout
// responses carry order and payment data, so nothing is cached.
func (h *Handlers) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Cross-Origin-Opener-Policy", "same-origin")
		headers.Set("Cross-Origin-Resource-Policy", "same-origin")
		headers.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// RequireSameOrigin rejects cookie-authenticated writes whose Origin or
// Referer points at a host other than the store.
func (h *Handlers) RequireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, bearer := bearerCredentials(r); bearer || !requestMutatesState(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		meter := observability.MeterFromContext(r.Context())
		meter.Count("security.same_origin.checked", 1)

		if reason := h.crossOriginReason(r); reason != "" {
			meter.Count("security.same_origin.blocked", 1, sentry.WithAttributes(attribute.String("reason", reason)))
			h.loggerFromContext(r.Context()).Warn("blocked cross-origin request",
				"reason", reason,
				"origin", r.Header.Get("Origin"),
				"referer", r.Referer(),
			)
			writeErrorCode(w, r, http.StatusForbidden, "FORBIDDEN", "Cross-origin request blocked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// crossOriginReason returns why r fails the same-origin check, or "" when it
// passes. At least one of Origin and Referer must be present and every
// present header must name an allowed host.
func (h *Handlers) crossOriginReason(r *http.Request) string {
	sources := []struct {
		value  string
		reason string
	}{
		{value: strings.TrimSpace(r.Header.Get("Origin")), reason: "invalid_origin"},
		{value: strings.TrimSpace(r.Referer()), reason: "invalid_referer"},
	}

	allowed := h.allowedHosts(r)
	seen := false
	for _, source := range sources {
		if source.value == "" {
			continue
		}
		seen = true
		if _, ok := allowed[hostOf(source.value)]; !ok {
			return source.reason
		}
	}
	if !seen {
		return "missing_origin_and_referer"
	}
	return ""
}

func (h *Handlers) allowedHosts(r *http.Request) map[string]struct{} {
	hosts := make(map[string]struct{}, 2)
	if host := normalizeHost(r.Host); host != "" {
		hosts[host] = struct{}{}
	}
	if h.config != nil {
		if host := hostOf(h.config.BaseURL); host != "" {
			hosts[host] = struct{}{}
		}
	}
	return hosts
}

func requestMutatesState(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// hostOf returns the lower-cased hostname of an absolute URL, or "".
func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = host
	}
	return strings.ToLower(strings.TrimSpace(hostport))
}

func bearerCredentials(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
