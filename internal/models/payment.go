package models

import (
	"time"

	"github.com/google/uuid"
)

type Payment struct {
	ID                uuid.UUID     `json:"id"`
	OrderID           uuid.UUID     `json:"orderId"`
	Provider          string        `json:"provider"`
	ProviderPaymentID string        `json:"providerPaymentId"`
	AmountCents       int64         `json:"amountCents"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	TestMode          bool          `json:"testMode"`
	CheckoutURL       string        `json:"checkoutUrl,omitempty"`
	ClientSecret      string        `json:"clientSecret,omitempty"`
	RefundReference   string        `json:"refundReference,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

func (p *Payment) IsSettled() bool {
	return p != nil && p.Status == PaymentSucceeded
}
