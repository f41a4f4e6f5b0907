package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/gitshopapp/checkout/internal/crypto"
)

const defaultAreebaAPIVersion = "57"

type HostedCheckoutConfig struct {
	APIURL        string
	MerchantID    string
	APIPassword   string
	APIVersion    string
	WebhookSecret string
	AppBaseURL    string
	TestFallback  bool
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// HostedCheckoutGateway creates Mastercard-style hosted checkout sessions
// (Areeba) authenticated with merchant Basic auth.
type HostedCheckoutGateway struct {
	apiURL     string
	merchantID string
	password   string
	version    string
	signer     *crypto.Signer
	appBaseURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	fallback   testFallback
	logger     *slog.Logger
}

func NewHostedCheckoutGateway(cfg HostedCheckoutConfig) *HostedCheckoutGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "payment", "provider", "areeba")

	version := cfg.APIVersion
	if version == "" {
		version = defaultAreebaAPIVersion
	}
	secret := cfg.WebhookSecret
	if secret == "" {
		secret = cfg.APIPassword
	}
	signer, _ := crypto.NewSigner(secret)
	appBaseURL := strings.TrimRight(cfg.AppBaseURL, "/")

	return &HostedCheckoutGateway{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		merchantID: cfg.MerchantID,
		password:   cfg.APIPassword,
		version:    version,
		signer:     signer,
		appBaseURL: appBaseURL,
		client:     defaultHTTPClient(cfg.HTTPClient),
		breaker:    NewBreaker("payment.areeba", logger),
		fallback: testFallback{
			provider:   "areeba",
			appBaseURL: appBaseURL,
			onFailure:  cfg.TestFallback,
			logger:     logger,
		},
		logger: logger,
	}
}

func (g *HostedCheckoutGateway) Kind() Kind {
	return KindHosted
}

func (g *HostedCheckoutGateway) Configured() bool {
	return g.apiURL != "" && g.merchantID != "" && g.password != ""
}

func (g *HostedCheckoutGateway) merchantURL() string {
	return fmt.Sprintf("%s/api/rest/version/%s/merchant/%s", g.apiURL, g.version, url.PathEscape(g.merchantID))
}

// CheckoutURL is the hosted payment page for a session.
func (g *HostedCheckoutGateway) CheckoutURL(sessionID string) string {
	return fmt.Sprintf("%s/checkout/version/%s/checkout.html?session.id=%s", g.apiURL, g.version, url.QueryEscape(sessionID))
}

func (g *HostedCheckoutGateway) authHeaders() map[string]string {
	credentials := "merchant." + g.merchantID + ":" + g.password
	return map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
	}
}

type areebaSessionRequest struct {
	APIOperation string            `json:"apiOperation"`
	Order        areebaOrder       `json:"order"`
	Interaction  areebaInteraction `json:"interaction"`
}

type areebaOrder struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type areebaInteraction struct {
	Operation string `json:"operation"`
	ReturnURL string `json:"returnUrl"`
	CancelURL string `json:"cancelUrl"`
}

type areebaSessionResponse struct {
	Result  string `json:"result"`
	Status  string `json:"status"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

func (g *HostedCheckoutGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if !g.Configured() {
		return g.fallback.intent("credentials not configured"), nil
	}

	body := areebaSessionRequest{
		APIOperation: "CREATE_CHECKOUT_SESSION",
		Order: areebaOrder{
			ID:          fmt.Sprintf("%d", req.OrderNumber),
			Amount:      formatMajorUnits(req.AmountCents),
			Currency:    strings.ToUpper(req.Currency),
			Description: req.description(),
		},
		Interaction: areebaInteraction{
			Operation: "PURCHASE",
			ReturnURL: g.appBaseURL + "/checkout/success?order_id=" + url.QueryEscape(req.OrderID.String()),
			CancelURL: g.appBaseURL + "/checkout/cancel?order_id=" + url.QueryEscape(req.OrderID.String()),
		},
	}

	resp, err := ExecuteWithBreaker(g.breaker, func() (*areebaSessionResponse, error) {
		var out areebaSessionResponse
		err := doJSON(ctx, g.client, KindHosted, "create session", apiRequest{
			method:  http.MethodPost,
			url:     g.merchantURL() + "/session",
			headers: g.authHeaders(),
			body:    body,
		}, &out)
		return &out, err
	})
	if err != nil {
		if g.fallback.onFailure {
			return g.fallback.intent(err.Error()), nil
		}
		return nil, asGatewayError(KindHosted, "create session", err)
	}
	if resp.Session.ID == "" {
		return nil, &GatewayError{Provider: KindHosted, Op: "create session", Err: errors.New("response is missing session.id")}
	}

	return &Intent{
		ProviderID:   resp.Session.ID,
		Status:       StatusPending,
		RedirectURL:  g.CheckoutURL(resp.Session.ID),
		ClientSecret: resp.Session.ID,
	}, nil
}

// Confirm looks up the session. A failed lookup is reported as pending so the
// shopper can poll again.
func (g *HostedCheckoutGateway) Confirm(ctx context.Context, providerID string) (*Confirmation, error) {
	pending := &Confirmation{ProviderID: providerID, Status: StatusPending}
	if IsTestPayment(providerID) || !g.Configured() {
		return pending, nil
	}

	resp, err := ExecuteWithBreaker(g.breaker, func() (*areebaSessionResponse, error) {
		var out areebaSessionResponse
		err := doJSON(ctx, g.client, KindHosted, "get session", apiRequest{
			method:  http.MethodGet,
			url:     g.merchantURL() + "/session/" + url.PathEscape(providerID),
			headers: g.authHeaders(),
		}, &out)
		return &out, err
	})
	if err != nil {
		g.logger.WarnContext(ctx, "areeba session lookup failed, reporting pending", "provider_payment_id", providerID, "error", err)
		return pending, nil
	}

	status := resp.Status
	if status == "" {
		status = resp.Order.Status
	}
	return &Confirmation{
		ProviderID: providerID,
		Status:     status,
		Paid:       areebaPaid(status),
	}, nil
}

type areebaRefundRequest struct {
	APIOperation string `json:"apiOperation"`
	Transaction  struct {
		Amount   string `json:"amount,omitempty"`
		Currency string `json:"currency,omitempty"`
	} `json:"transaction"`
}

type areebaRefundResponse struct {
	Result      string `json:"result"`
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Order struct {
		Status string `json:"status"`
	} `json:"order"`
}

func (g *HostedCheckoutGateway) Refund(ctx context.Context, req RefundRequest) (*RefundRecord, error) {
	if IsTestPayment(req.ProviderID) {
		return &RefundRecord{ID: "refund_" + req.ProviderID, Status: "refunded", Message: "Test payment refunded without provider call"}, nil
	}
	if !g.Configured() {
		return nil, &GatewayError{Provider: KindHosted, Op: "refund", Err: ErrGatewayUnavailable}
	}
	if req.OrderReference == "" {
		return nil, &GatewayError{Provider: KindHosted, Op: "refund", Err: errors.New("order reference is required")}
	}

	var body areebaRefundRequest
	body.APIOperation = "REFUND"
	if req.AmountCents > 0 {
		body.Transaction.Amount = formatMajorUnits(req.AmountCents)
	}
	transactionID := "refund-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	resp, err := ExecuteWithBreaker(g.breaker, func() (*areebaRefundResponse, error) {
		var out areebaRefundResponse
		err := doJSON(ctx, g.client, KindHosted, "refund", apiRequest{
			method:  http.MethodPut,
			url:     g.merchantURL() + "/order/" + url.PathEscape(req.OrderReference) + "/transaction/" + transactionID,
			headers: g.authHeaders(),
			body:    body,
		}, &out)
		return &out, err
	})
	if err != nil {
		return nil, asGatewayError(KindHosted, "refund", err)
	}

	id := resp.Transaction.ID
	if id == "" {
		id = transactionID
	}
	return &RefundRecord{ID: id, Status: strings.ToLower(resp.Result)}, nil
}

func (g *HostedCheckoutGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	if g.signer == nil {
		return false
	}
	return g.signer.Verify(payload, signature)
}

// ParseWebhook reads a hosted checkout notification. The session id is the
// provider payment id stored at intent creation.
func (g *HostedCheckoutGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body areebaSessionResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to parse areeba webhook: %w", err)
	}
	if body.Session.ID == "" {
		return nil, errors.New("areeba webhook is missing session.id")
	}

	status := body.Order.Status
	if status == "" {
		status = body.Status
	}
	status = strings.ToUpper(status)
	return &WebhookEvent{
		ProviderID: body.Session.ID,
		Status:     status,
		Paid:       areebaPaid(status),
		Failed:     status == "FAILED" || status == "DECLINED" || status == "CANCELLED" || status == "EXPIRED",
	}, nil
}

func areebaPaid(status string) bool {
	status = strings.ToUpper(status)
	return status == "CAPTURED" || status == "APPROVED"
}
