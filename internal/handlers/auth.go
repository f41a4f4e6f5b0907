package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/session"
)

// RequireUser rejects requests that carry no session or bearer token.
func (h *Handlers) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess := h.currentUser(r); sess == nil {
			observability.MeterFromContext(r.Context()).Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "unauthenticated")))
			writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin allows only store operators through.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := h.currentUser(r)
		if sess == nil {
			writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
			return
		}
		if !sess.IsAdmin() {
			observability.MeterFromContext(r.Context()).Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "not_admin")))
			h.loggerFromContext(r.Context()).Warn("non-admin attempted admin route", "user_id", sess.UserID, "path", r.URL.Path)
			writeErrorCode(w, r, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logout destroys the cookie session. Bearer tokens simply expire.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.DestroySession(r.Context(), w, r); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to destroy session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) currentUser(r *http.Request) *session.Data {
	return h.sessionFromRequest(r.Context(), r)
}
