package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Address is the snapshot of a shipping or billing address at order time.
type Address struct {
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address" validate:"required"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type Order struct {
	ID                 uuid.UUID     `json:"id"`
	OrderNumber        int           `json:"orderNumber"`
	UserID             uuid.UUID     `json:"userId"`
	Email              string        `json:"email"`
	Status             OrderStatus   `json:"status"`
	PaymentStatus      PaymentStatus `json:"paymentStatus"`
	PaymentMethod      string        `json:"paymentMethod"`
	ShippingAddress    Address       `json:"shippingAddress"`
	BillingAddress     *Address      `json:"billingAddress,omitempty"`
	SubtotalCents      int64         `json:"subtotalCents"`
	ShippingCents      int64         `json:"shippingCents"`
	TaxCents           int64         `json:"taxCents"`
	TotalCents         int64         `json:"totalCents"`
	Notes              string        `json:"notes,omitempty"`
	TrackingNumber     string        `json:"trackingNumber,omitempty"`
	Carrier            string        `json:"carrier,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	Items              []OrderItem   `json:"items"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	PaidAt             time.Time     `json:"paidAt,omitzero"`
	ShippedAt          time.Time     `json:"shippedAt,omitzero"`
	DeliveredAt        time.Time     `json:"deliveredAt,omitzero"`
	CancelledAt        time.Time     `json:"cancelledAt,omitzero"`
	RefundedAt         time.Time     `json:"refundedAt,omitzero"`
}

// OrderItem freezes the product name, SKU and price at order time.
type OrderItem struct {
	ID              uuid.UUID `json:"id"`
	OrderID         uuid.UUID `json:"orderId"`
	ProductID       uuid.UUID `json:"productId"`
	ProductName     string    `json:"productName"`
	ProductSKU      string    `json:"productSku"`
	UnitPriceCents  int64     `json:"unitPriceCents"`
	Quantity        int       `json:"quantity"`
	TotalPriceCents int64     `json:"totalPriceCents"`
}

func (o *Order) IsOwnedBy(userID uuid.UUID) bool {
	return o != nil && userID != uuid.Nil && o.UserID == userID
}

// ContactEmail prefers the account email and falls back to the address snapshots.
func (o *Order) ContactEmail() string {
	if o == nil {
		return ""
	}
	if o.Email != "" {
		return o.Email
	}
	if o.ShippingAddress.Email != "" {
		return o.ShippingAddress.Email
	}
	if o.BillingAddress != nil {
		return o.BillingAddress.Email
	}
	return ""
}

func (a Address) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}
