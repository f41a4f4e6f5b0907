// Package stripe provides the card payment gateway backed by Stripe Checkout.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/gitshopapp/checkout/internal/payment"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL is the public storefront URL used for success and cancel redirects.
	BaseURL string
	// APIURL overrides the Stripe API endpoint.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gateway creates Stripe Checkout Sessions, reads their outcome and verifies
// webhook deliveries.
type Gateway struct {
	client        *stripeapi.Client
	webhookSecret string
	baseURL       string
	breaker       *gobreaker.CircuitBreaker
	logger        *slog.Logger
}

func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "payment", "provider", "stripe")

	var opts []stripeapi.ClientOption
	if cfg.APIURL != "" || cfg.HTTPClient != nil {
		backendConfig := &stripeapi.BackendConfig{HTTPClient: cfg.HTTPClient}
		if cfg.APIURL != "" {
			backendConfig.URL = stripeapi.String(cfg.APIURL)
		}
		opts = append(opts, stripeapi.WithBackends(stripeapi.NewBackendsWithConfig(backendConfig)))
	}

	return &Gateway{
		client:        stripeapi.NewClient(cfg.SecretKey, opts...),
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		breaker:       payment.NewBreaker("payment.stripe", logger),
		logger:        logger,
	}, nil
}

func (g *Gateway) Kind() payment.Kind {
	return payment.KindCard
}

// CreateIntent creates a Checkout Session charging the order total as a
// single line item.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Order #%d", req.OrderNumber)
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	params := &stripeapi.CheckoutSessionCreateParams{
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:         stripeapi.String(g.baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripeapi.String(g.baseURL + "/checkout/cancel?order_id=" + req.OrderID.String()),
		ClientReferenceID:  stripeapi.String(req.OrderID.String()),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(currency),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(description),
					},
					UnitAmount: stripeapi.Int64(req.AmountCents),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: req.BaseMetadata(),
	}
	// Stripe rejects an empty customer email.
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	session, err := payment.ExecuteWithBreaker(g.breaker, func() (*stripeapi.CheckoutSession, error) {
		return g.client.V1CheckoutSessions.Create(ctx, params)
	})
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}

	return &payment.Intent{
		ProviderID:   session.ID,
		Status:       payment.StatusPending,
		RedirectURL:  session.URL,
		ClientSecret: session.ClientSecret,
	}, nil
}

func (g *Gateway) Confirm(ctx context.Context, providerID string) (*payment.Confirmation, error) {
	session, err := g.getSession(ctx, providerID)
	if err != nil {
		return nil, err
	}

	confirmation := &payment.Confirmation{
		ProviderID: session.ID,
		Status:     string(session.PaymentStatus),
		Paid:       session.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid,
	}
	if orderID, err := uuid.Parse(session.Metadata["order_id"]); err == nil {
		confirmation.OrderID = orderID
	}
	return confirmation, nil
}

// Refund refunds the PaymentIntent behind a paid Checkout Session.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundRecord, error) {
	session, err := g.getSession(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return nil, &payment.GatewayError{Provider: payment.KindCard, Op: "refund", Err: errors.New("checkout session has no payment intent")}
	}

	params := &stripeapi.RefundCreateParams{
		PaymentIntent: stripeapi.String(session.PaymentIntent.ID),
	}
	if req.AmountCents > 0 {
		params.Amount = stripeapi.Int64(req.AmountCents)
	}

	refund, err := payment.ExecuteWithBreaker(g.breaker, func() (*stripeapi.Refund, error) {
		return g.client.V1Refunds.Create(ctx, params)
	})
	if err != nil {
		return nil, gatewayError("refund", err)
	}
	return &payment.RefundRecord{ID: refund.ID, Status: string(refund.Status)}, nil
}

func (g *Gateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, g.webhookSecret) == nil
}

var (
	// ErrWebhookNotConfigured is returned by ReadEvent when no signing secret is set.
	ErrWebhookNotConfigured = errors.New("stripe webhook secret is not configured")
	// ErrInvalidSignature marks a delivery whose Stripe-Signature does not verify.
	ErrInvalidSignature = errors.New("invalid stripe webhook signature")
)

// ReadEvent reads a webhook delivery and verifies it against the signing
// secret. The caller bounds the body size.
func (g *Gateway) ReadEvent(r *http.Request) (*stripeapi.Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, signatureHeader)
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}

	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		if isSignatureFailure(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("failed to construct stripe event: %w", err)
	}
	if event.ID == "" {
		return nil, errors.New("stripe event is missing id")
	}
	return &event, nil
}

const signatureHeader = "Stripe-Signature"

func isSignatureFailure(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// ParseWebhook reads a verified Stripe event payload.
func (g *Gateway) ParseWebhook(payload []byte) (*payment.WebhookEvent, error) {
	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}
	return ParseEvent(&event)
}

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseEvent maps a checkout session event onto a payment outcome. Events
// other than checkout session events return ErrUnhandledEvent.
func ParseEvent(event *stripeapi.Event) (*payment.WebhookEvent, error) {
	if event == nil || event.Data == nil {
		return nil, errors.New("missing stripe event data")
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}

	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session payload: %w", err)
	}
	if session.ID == "" {
		return nil, errors.New("checkout session payload is missing id")
	}

	result := &payment.WebhookEvent{ProviderID: session.ID, Status: session.PaymentStatus}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		result.Paid = session.PaymentStatus == string(stripeapi.CheckoutSessionPaymentStatusPaid)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		result.Failed = true
		if result.Status == "" {
			result.Status = session.Status
		}
	}
	return result, nil
}

var ErrUnhandledEvent = errors.New("unhandled stripe event")

func (g *Gateway) getSession(ctx context.Context, sessionID string) (*stripeapi.CheckoutSession, error) {
	if sessionID == "" {
		return nil, &payment.GatewayError{Provider: payment.KindCard, Op: "get checkout session", Err: errors.New("session id is required")}
	}
	session, err := payment.ExecuteWithBreaker(g.breaker, func() (*stripeapi.CheckoutSession, error) {
		return g.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	})
	if err != nil {
		return nil, gatewayError("get checkout session", err)
	}
	return session, nil
}

func gatewayError(op string, err error) error {
	gatewayErr := &payment.GatewayError{Provider: payment.KindCard, Op: op, Err: err}
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		gatewayErr.StatusCode = stripeErr.HTTPStatusCode
	}
	return gatewayErr
}
