package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gitshopapp/checkout/internal/crypto"
)

const defaultWhishAPIURL = "https://api.whish.money"

type RedirectConfig struct {
	APIURL       string
	MerchantID   string
	APIKey       string
	Secret       string
	AppBaseURL   string
	TestFallback bool
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// RedirectGateway talks to a Whish-style API: requests are signed with an
// HMAC of their sorted parameters and the shopper is redirected to a
// provider payment page.
type RedirectGateway struct {
	apiURL     string
	merchantID string
	apiKey     string
	signer     *crypto.Signer
	appBaseURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	fallback   testFallback
	logger     *slog.Logger
	now        func() time.Time
}

func NewRedirectGateway(cfg RedirectConfig) *RedirectGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "payment", "provider", "whish")

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultWhishAPIURL
	}

	// A nil signer means the gateway runs in test mode only.
	signer, _ := crypto.NewSigner(cfg.Secret)

	return &RedirectGateway{
		apiURL:     apiURL,
		merchantID: cfg.MerchantID,
		apiKey:     cfg.APIKey,
		signer:     signer,
		appBaseURL: strings.TrimRight(cfg.AppBaseURL, "/"),
		client:     defaultHTTPClient(cfg.HTTPClient),
		breaker:    NewBreaker("payment.whish", logger),
		fallback: testFallback{
			provider:   "whish",
			appBaseURL: strings.TrimRight(cfg.AppBaseURL, "/"),
			onFailure:  cfg.TestFallback,
			logger:     logger,
		},
		logger: logger,
		now:    time.Now,
	}
}

func (g *RedirectGateway) Kind() Kind {
	return KindRedirect
}

// Configured reports whether merchant credentials are set. An unconfigured
// gateway only issues test intents.
func (g *RedirectGateway) Configured() bool {
	return g.merchantID != "" && g.apiKey != "" && g.signer != nil
}

type whishPaymentResponse struct {
	PaymentID  string          `json:"payment_id"`
	Status     string          `json:"status"`
	PaymentURL string          `json:"payment_url"`
	Amount     json.RawMessage `json:"amount,omitempty"`
	Currency   string          `json:"currency,omitempty"`
}

func (g *RedirectGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if !g.Configured() {
		return g.fallback.intent("credentials not configured"), nil
	}

	metadata, err := json.Marshal(req.BaseMetadata())
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment metadata: %w", err)
	}
	params := map[string]string{
		"merchant_id":  g.merchantID,
		"amount":       formatMajorUnits(req.AmountCents),
		"currency":     strings.ToUpper(req.Currency),
		"callback_url": g.appBaseURL + "/webhooks/whish",
		"return_url":   g.appBaseURL + "/checkout/success?order_id=" + url.QueryEscape(req.OrderID.String()),
		"metadata":     string(metadata),
		"timestamp":    unixMillis(g.now()),
	}

	resp, err := ExecuteWithBreaker(g.breaker, func() (*whishPaymentResponse, error) {
		var out whishPaymentResponse
		err := doJSON(ctx, g.client, KindRedirect, "create payment", apiRequest{
			method:  http.MethodPost,
			url:     g.apiURL + "/v1/payments",
			headers: g.signedHeaders(params),
			body:    params,
		}, &out)
		return &out, err
	})
	if err != nil {
		if g.fallback.onFailure {
			return g.fallback.intent(err.Error()), nil
		}
		return nil, asGatewayError(KindRedirect, "create payment", err)
	}
	if resp.PaymentID == "" {
		return nil, &GatewayError{Provider: KindRedirect, Op: "create payment", Err: errors.New("response is missing payment_id")}
	}

	return &Intent{
		ProviderID:   resp.PaymentID,
		Status:       StatusPending,
		RedirectURL:  resp.PaymentURL,
		ClientSecret: resp.PaymentID,
	}, nil
}

func (g *RedirectGateway) Confirm(ctx context.Context, providerID string) (*Confirmation, error) {
	if IsTestPayment(providerID) || !g.Configured() {
		return &Confirmation{ProviderID: providerID, Status: StatusPending}, nil
	}

	resp, err := ExecuteWithBreaker(g.breaker, func() (*whishPaymentResponse, error) {
		var out whishPaymentResponse
		err := doJSON(ctx, g.client, KindRedirect, "get payment", apiRequest{
			method:  http.MethodGet,
			url:     g.apiURL + "/v1/payments/" + url.PathEscape(providerID),
			headers: map[string]string{"Authorization": "Bearer " + g.apiKey},
		}, &out)
		return &out, err
	})
	if err != nil {
		return nil, asGatewayError(KindRedirect, "get payment", err)
	}

	return &Confirmation{
		ProviderID: providerID,
		Status:     resp.Status,
		Paid:       resp.Status == "completed",
	}, nil
}

type whishRefundResponse struct {
	RefundID string `json:"refund_id"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

func (g *RedirectGateway) Refund(ctx context.Context, req RefundRequest) (*RefundRecord, error) {
	if IsTestPayment(req.ProviderID) {
		return &RefundRecord{ID: "refund_" + req.ProviderID, Status: "refunded", Message: "Test payment refunded without provider call"}, nil
	}
	if !g.Configured() {
		return nil, &GatewayError{Provider: KindRedirect, Op: "refund", Err: ErrGatewayUnavailable}
	}

	params := map[string]string{
		"payment_id": req.ProviderID,
		"timestamp":  unixMillis(g.now()),
	}
	if req.AmountCents > 0 {
		params["amount"] = formatMajorUnits(req.AmountCents)
	}

	resp, err := ExecuteWithBreaker(g.breaker, func() (*whishRefundResponse, error) {
		var out whishRefundResponse
		err := doJSON(ctx, g.client, KindRedirect, "create refund", apiRequest{
			method:  http.MethodPost,
			url:     g.apiURL + "/v1/refunds",
			headers: g.signedHeaders(params),
			body:    params,
		}, &out)
		return &out, err
	})
	if err != nil {
		return nil, asGatewayError(KindRedirect, "create refund", err)
	}

	id := resp.RefundID
	if id == "" {
		id = resp.ID
	}
	return &RefundRecord{ID: id, Status: resp.Status, Message: resp.Message}, nil
}

func (g *RedirectGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	if g.signer == nil {
		return false
	}
	return g.signer.Verify(payload, signature)
}

// ParseWebhook reads a Whish payment notification.
func (g *RedirectGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to parse whish webhook: %w", err)
	}
	if body.PaymentID == "" {
		return nil, errors.New("whish webhook is missing payment_id")
	}

	status := strings.ToLower(body.Status)
	return &WebhookEvent{
		ProviderID: body.PaymentID,
		Status:     status,
		Paid:       status == "completed",
		Failed:     status == "failed" || status == "cancelled" || status == "expired",
	}, nil
}

func (g *RedirectGateway) signedHeaders(params map[string]string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + g.apiKey,
		"X-Signature":   g.signer.SignParams(params),
	}
}

func asGatewayError(kind Kind, op string, err error) error {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}
	return &GatewayError{Provider: kind, Op: op, Err: err}
}
