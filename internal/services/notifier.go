package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/email"
	"github.com/gitshopapp/checkout/internal/logging"
)

type StoreInfo struct {
	Name     string
	URL      string
	Currency string
}

// EmailNotifier renders order notifications and sends them through the
// configured email provider. Without a provider it only logs.
type EmailNotifier struct {
	provider email.Provider
	renderer *email.Renderer
	store    StoreInfo
	logger   *slog.Logger
}

func NewEmailNotifier(provider email.Provider, store StoreInfo, logger *slog.Logger) (*EmailNotifier, error) {
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create email renderer: %w", err)
	}
	return &EmailNotifier{
		provider: provider,
		renderer: renderer,
		store:    store,
		logger:   logger,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, notification Notification) error {
	order := notification.Order
	if order == nil {
		return fmt.Errorf("notification has no order")
	}
	logger := logging.FromContext(ctx, n.logger)

	to := order.ContactEmail()
	if to == "" {
		logger.Info("order has no contact email, skipping notification", "kind", notification.Kind)
		return nil
	}

	templateName := email.TemplateStatusChanged
	if notification.Kind == NotificationOrderConfirmed {
		templateName = email.TemplateOrderConfirmed
	}

	msg, err := n.renderer.Render(templateName, n.orderInfo(order, notification, to))
	if err != nil {
		return err
	}
	msg.Tag = string(notification.Kind)

	if n.provider == nil {
		logger.Info("email provider not configured, notification logged only",
			"kind", notification.Kind,
			"to", to,
			"subject", msg.Subject,
		)
		return nil
	}
	return n.provider.SendEmail(ctx, msg)
}

func (n *EmailNotifier) orderInfo(order *db.Order, notification Notification, to string) *email.OrderInfo {
	currency := n.store.Currency
	info := &email.OrderInfo{
		OrderNumber:     strconv.Itoa(order.OrderNumber),
		CustomerName:    order.ShippingAddress.FullName(),
		CustomerEmail:   to,
		StoreName:       n.store.Name,
		StoreURL:        n.store.URL,
		Status:          string(order.Status),
		StatusLabel:     statusLabel(order.Status),
		PaymentMethod:   order.PaymentMethod,
		Reason:          notification.Reason,
		TrackingNumber:  order.TrackingNumber,
		TrackingCarrier: order.Carrier,
		TrackingURL:     BuildTrackingURL(order.Carrier, order.TrackingNumber),
		ShippingAddress: formatAddress(order.ShippingAddress),
		OrderDate:       order.CreatedAt.Format("January 2, 2006"),
		Subtotal:        FormatMoney(order.SubtotalCents, currency),
		Shipping:        FormatMoney(order.ShippingCents, currency),
		Tax:             FormatMoney(order.TaxCents, currency),
		Total:           FormatMoney(order.TotalCents, currency),
	}
	if info.Reason == "" {
		info.Reason = order.CancellationReason
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, email.OrderItem{
			Name:       item.ProductName,
			SKU:        item.ProductSKU,
			Quantity:   item.Quantity,
			UnitPrice:  FormatMoney(item.UnitPriceCents, currency),
			TotalPrice: FormatMoney(item.TotalPriceCents, currency),
		})
	}
	return info
}

var statusLabels = map[db.OrderStatus]string{
	db.StatusPending:    "awaiting payment",
	db.StatusProcessing: "being prepared",
	db.StatusShipped:    "on its way",
	db.StatusDelivered:  "delivered",
	db.StatusCancelled:  "cancelled",
	db.StatusRefunded:   "refunded",
}

func statusLabel(status db.OrderStatus) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

// FormatMoney renders minor units for display, e.g. "$98.00" or "98.00 EUR".
func FormatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	amount := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	code := strings.ToUpper(currency)
	if code == "" || code == "USD" {
		return sign + "$" + amount
	}
	return sign + amount + " " + code
}

func formatAddress(address db.Address) string {
	parts := []string{address.FullName(), address.Address}
	if address.Address2 != "" {
		parts = append(parts, address.Address2)
	}
	cityLine := strings.TrimSpace(strings.Join([]string{address.City, address.State, address.PostalCode}, " "))
	parts = append(parts, cityLine, address.Country)

	nonEmpty := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
