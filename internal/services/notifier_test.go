package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/email"
)

type capturingProvider struct {
	sent []*email.Email
}

func (p *capturingProvider) SendEmail(_ context.Context, msg *email.Email) error {
	p.sent = append(p.sent, msg)
	return nil
}

func notifierTestOrder() *db.Order {
	address := testAddress()
	return &db.Order{
		ID:              uuid.New(),
		OrderNumber:     1042,
		Email:           "rania@example.com",
		Status:          db.StatusShipped,
		PaymentMethod:   "card",
		ShippingAddress: address,
		SubtotalCents:   8000,
		ShippingCents:   1000,
		TaxCents:        800,
		TotalCents:      9800,
		TrackingNumber:  "1Z999",
		Carrier:         "UPS",
		CreatedAt:       time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Items: []db.OrderItem{
			{ProductName: "Cedar Soap", ProductSKU: "SOAP", UnitPriceCents: 4000, Quantity: 2, TotalPriceCents: 8000},
		},
	}
}

func TestEmailNotifier_SendsRenderedTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		kind        NotificationKind
		wantSubject string
		wantBody    string
	}{
		{
			name:        "order confirmed",
			kind:        NotificationOrderConfirmed,
			wantSubject: "Order #1042 confirmed - Souk",
			wantBody:    "$98.00",
		},
		{
			name:        "status changed",
			kind:        NotificationStatusChanged,
			wantSubject: "Order #1042 is on its way - Souk",
			wantBody:    "1Z999",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			provider := &capturingProvider{}
			notifier, err := NewEmailNotifier(provider, StoreInfo{Name: "Souk", URL: "https://souk.example.com", Currency: "usd"}, discardLogger())
			if err != nil {
				t.Fatalf("NewEmailNotifier() error: %v", err)
			}
			if err := notifier.Notify(context.Background(), Notification{Kind: tc.kind, Order: notifierTestOrder()}); err != nil {
				t.Fatalf("Notify() error: %v", err)
			}
			if len(provider.sent) != 1 {
				t.Fatalf("sent = %d, want 1", len(provider.sent))
			}
			msg := provider.sent[0]
			if msg.To != "rania@example.com" || msg.Subject != tc.wantSubject || msg.Tag != string(tc.kind) {
				t.Fatalf("unexpected email to=%q subject=%q tag=%q", msg.To, msg.Subject, msg.Tag)
			}
			if !strings.Contains(msg.Text, tc.wantBody) {
				t.Fatalf("text body missing %q:\n%s", tc.wantBody, msg.Text)
			}
		})
	}
}

func TestEmailNotifier_WithoutProviderOnlyLogs(t *testing.T) {
	t.Parallel()

	notifier, err := NewEmailNotifier(nil, StoreInfo{Name: "Souk"}, discardLogger())
	if err != nil {
		t.Fatalf("NewEmailNotifier() error: %v", err)
	}
	if err := notifier.Notify(context.Background(), Notification{Kind: NotificationOrderConfirmed, Order: notifierTestOrder()}); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{cents: 9800, currency: "usd", want: "$98.00"},
		{cents: 5, currency: "", want: "$0.05"},
		{cents: 123456, currency: "eur", want: "1234.56 EUR"},
		{cents: -250, currency: "usd", want: "-$2.50"},
	}

	for _, tc := range tests {
		if got := FormatMoney(tc.cents, tc.currency); got != tc.want {
			t.Fatalf("FormatMoney(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
