package payment

import (
	"log/slog"
	"net/url"

	"github.com/google/uuid"
)

// testFallback issues synthetic intents when a provider is not configured or,
// if enabled, when the provider cannot be reached.
type testFallback struct {
	provider   string
	appBaseURL string
	onFailure  bool
	logger     *slog.Logger
}

func (f testFallback) intent(reason string) *Intent {
	id := "test_" + f.provider + "_" + uuid.NewString()
	f.logger.Warn("issuing test-mode payment intent", "provider", f.provider, "reason", reason, "provider_payment_id", id)

	redirect := f.appBaseURL + "/checkout/test-payment?" + url.Values{
		"provider": {f.provider},
		"id":       {id},
	}.Encode()
	return &Intent{
		ProviderID:   id,
		Status:       StatusPending,
		RedirectURL:  redirect,
		ClientSecret: id,
		TestMode:     true,
	}
}
