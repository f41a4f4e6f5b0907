package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gitshopapp/checkout/internal/config"
)

func TestRequireSameOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
	}{
		{
			name:    "matching origin",
			method:  http.MethodPost,
			headers: map[string]string{"Origin": "https://shop.example.com"},
			want:    http.StatusNoContent,
		},
		{
			name:    "matching referer",
			method:  http.MethodPut,
			headers: map[string]string{"Referer": "https://shop.example.com/admin/orders"},
			want:    http.StatusNoContent,
		},
		{
			name:   "missing origin and referer",
			method: http.MethodPost,
			want:   http.StatusForbidden,
		},
		{
			name:    "cross origin",
			method:  http.MethodPost,
			headers: map[string]string{"Origin": "https://attacker.example"},
			want:    http.StatusForbidden,
		},
		{
			name:    "cross origin referer",
			method:  http.MethodPost,
			headers: map[string]string{"Referer": "https://attacker.example/form"},
			want:    http.StatusForbidden,
		},
		{
			name:   "read only method",
			method: http.MethodGet,
			want:   http.StatusNoContent,
		},
		{
			name:    "bearer client",
			method:  http.MethodPost,
			headers: map[string]string{"Authorization": "Bearer abc.def.ghi"},
			want:    http.StatusNoContent,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := &Handlers{config: &config.Config{BaseURL: "https://shop.example.com"}}
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})

			req := httptest.NewRequest(tc.method, "https://shop.example.com/orders", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			rec := httptest.NewRecorder()

			h.RequireSameOrigin(next).ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := &Handlers{}
	rec := httptest.NewRecorder()
	h.SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}
