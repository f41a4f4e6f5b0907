// Package payment defines the gateway contract shared by every payment
// provider and the registry that selects one per order.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies a payment method family.
type Kind string

const (
	KindCard     Kind = "card"
	KindRedirect Kind = "redirect"
	KindHosted   Kind = "hosted"
	KindCash     Kind = "cash"
)

const StatusPending = "pending"

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ParseKind normalizes a stored payment method tag. Unknown and empty tags
// resolve to cash on delivery.
func ParseKind(tag string) Kind {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "card", "stripe":
		return KindCard
	case "redirect", "whish":
		return KindRedirect
	case "hosted", "areeba":
		return KindHosted
	default:
		return KindCash
	}
}

func (k Kind) String() string {
	return string(k)
}

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Kind() Kind
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, providerID string) (*Confirmation, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundRecord, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}

type IntentRequest struct {
	OrderID       uuid.UUID
	OrderNumber   int
	UserID        uuid.UUID
	AmountCents   int64
	Currency      string
	CustomerEmail string
	Description   string
	Metadata      map[string]string
}

// BaseMetadata is the metadata every provider receives for an order.
func (r IntentRequest) BaseMetadata() map[string]string {
	metadata := map[string]string{
		"order_id":     r.OrderID.String(),
		"order_number": fmt.Sprintf("%d", r.OrderNumber),
		"user_id":      r.UserID.String(),
	}
	for key, value := range r.Metadata {
		metadata[key] = value
	}
	return metadata
}

func (r IntentRequest) description() string {
	if r.Description != "" {
		return r.Description
	}
	return fmt.Sprintf("Order #%d", r.OrderNumber)
}

type Intent struct {
	ProviderID   string
	Status       string
	RedirectURL  string
	ClientSecret string
	TestMode     bool
}

type Confirmation struct {
	ProviderID string
	Status     string
	Paid       bool
	// OrderID is set when the provider echoes order metadata back.
	OrderID uuid.UUID
}

// RefundRequest refunds a settled payment. AmountCents of zero refunds in full.
type RefundRequest struct {
	ProviderID     string
	OrderReference string
	AmountCents    int64
}

type RefundRecord struct {
	ID      string
	Status  string
	Message string
}

// WebhookEvent is the provider-neutral reading of a payment notification.
type WebhookEvent struct {
	ProviderID string
	Status     string
	Paid       bool
	Failed     bool
}

// WebhookParser is implemented by gateways that receive signed notifications.
type WebhookParser interface {
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// GatewayError reports a failed call to a remote payment provider.
type GatewayError struct {
	Provider   Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTestPayment reports whether providerID was issued by a test-mode fallback.
func IsTestPayment(providerID string) bool {
	return strings.HasPrefix(providerID, "test_")
}
