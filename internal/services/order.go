package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/payment"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
)

// Pricing holds the storefront's shipping and tax rules.
type Pricing struct {
	ShippingFeeCents           int64
	FreeShippingThresholdCents int64
	TaxRate                    float64
}

type Totals struct {
	SubtotalCents int64
	ShippingCents int64
	TaxCents      int64
	TotalCents    int64
}

// Totals computes the order amounts from the item subtotal. Shipping is free
// at or above the threshold and tax is rounded to the nearest minor unit.
func (p Pricing) Totals(subtotalCents int64) Totals {
	shipping := p.ShippingFeeCents
	if subtotalCents >= p.FreeShippingThresholdCents {
		shipping = 0
	}
	tax := int64(math.Round(float64(subtotalCents) * p.TaxRate))
	return Totals{
		SubtotalCents: subtotalCents,
		ShippingCents: shipping,
		TaxCents:      tax,
		TotalCents:    subtotalCents + shipping + tax,
	}
}

type OrderService struct {
	stores   Stores
	gateways GatewayResolver
	pricing  Pricing
	notify   NotificationSink
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOrderService builds the order service. gateways refunds paid orders that
// are cancelled before shipping.
func NewOrderService(stores Stores, gateways GatewayResolver, pricing Pricing, notify NotificationSink, logger *slog.Logger) *OrderService {
	return &OrderService{
		stores:   stores,
		gateways: gateways,
		pricing:  pricing,
		notify:   notify,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type OrderLineInput struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type CreateOrderInput struct {
	UserID          uuid.UUID        `json:"-"`
	Email           string           `json:"email" validate:"omitempty,email"`
	Items           []OrderLineInput `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress models.Address   `json:"shippingAddress"`
	BillingAddress  *models.Address  `json:"billingAddress,omitempty"`
	PaymentMethod   string           `json:"paymentMethod"`
	Notes           string           `json:"notes" validate:"max=1000"`
}

type orderLine struct {
	productID uuid.UUID
	quantity  int
}

// mergeLines sums quantities of repeated products and orders lines by product
// id so concurrent reservations lock rows in the same order.
func mergeLines(items []OrderLineInput) ([]orderLine, error) {
	quantities := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		id, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, err
		}
		quantities[id] += item.Quantity
	}
	lines := make([]orderLine, 0, len(quantities))
	for id, qty := range quantities {
		lines = append(lines, orderLine{productID: id, quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].productID.String() < lines[j].productID.String()
	})
	return lines, nil
}

// Create validates the cart, reserves stock and persists a pending order in
// one transaction.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput) (*db.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Create"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		meter.Count("order.create.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
		observability.RecordOrder("create_failed")
	}

	if input.UserID == uuid.Nil {
		recordFailure("missing_user")
		return nil, validationError("User is required", nil)
	}
	if err := s.validate.Struct(input); err != nil {
		recordFailure("invalid_input")
		return nil, validationError(describeValidation(err), err)
	}
	lines, err := mergeLines(input.Items)
	if err != nil {
		recordFailure("invalid_input")
		return nil, validationError("Invalid product id", err)
	}

	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.productID
	}
	products, err := s.stores.Products.GetByIDs(ctx, s.stores.DB, ids)
	if err != nil {
		recordFailure("product_lookup_failed")
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]db.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		product, ok := products[line.productID]
		if !ok {
			recordFailure("product_not_found")
			return nil, notFoundError(CodeProductNotFound, fmt.Sprintf("Product %s not found", line.productID))
		}
		if !product.IsPurchasable() {
			recordFailure("product_inactive")
			return nil, newError(KindProductInactive, CodeProductInactive, fmt.Sprintf("Product %s is no longer available", product.Name), nil)
		}
		lineTotal := product.PriceCents * int64(line.quantity)
		subtotal += lineTotal
		items = append(items, db.OrderItem{
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductSKU:      product.SKU,
			UnitPriceCents:  product.PriceCents,
			Quantity:        line.quantity,
			TotalPriceCents: lineTotal,
		})
	}

	totals := s.pricing.Totals(subtotal)
	order := &db.Order{
		UserID:          input.UserID,
		Email:           strings.TrimSpace(input.Email),
		Status:          db.StatusPending,
		PaymentStatus:   db.PaymentPending,
		PaymentMethod:   payment.ParseKind(input.PaymentMethod).String(),
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		SubtotalCents:   totals.SubtotalCents,
		ShippingCents:   totals.ShippingCents,
		TaxCents:        totals.TaxCents,
		TotalCents:      totals.TotalCents,
		Notes:           strings.TrimSpace(input.Notes),
		Items:           items,
	}

	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		for _, item := range items {
			if _, err := s.stores.Stock.Decrement(ctx, q, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, db.ErrInsufficientStock) {
					return newError(KindInsufficientStock, CodeInsufficientStock, fmt.Sprintf("Insufficient stock for %s", item.ProductName), err)
				}
				return err
			}
		}
		return s.stores.Orders.Create(ctx, q, order)
	})
	if err != nil {
		if serviceErr, ok := AsError(err); ok {
			recordFailure(string(serviceErr.Kind))
			return nil, serviceErr
		}
		recordFailure("persist_failed")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	meter.Count("order.create.succeeded", 1, sentry.WithAttributes(attribute.String("payment_method", order.PaymentMethod)))
	observability.RecordOrder("created")
	span.Status = sentry.SpanStatusOK
	logger.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total_cents", order.TotalCents,
		"payment_method", order.PaymentMethod,
	)
	return order, nil
}

// Get returns an order owned by requesterID. Orders awaiting an online
// payment are hidden unless includePending is set, so only the checkout page
// can see them before payment succeeds.
func (s *OrderService) Get(ctx context.Context, orderID, requesterID uuid.UUID, includePending bool) (*db.Order, error) {
	order, err := s.ownedOrder(ctx, orderID, requesterID)
	if err != nil {
		return nil, err
	}
	if !includePending && awaitingOnlinePayment(order) {
		return nil, forbiddenError(CodePaymentRequired, "Payment has not been completed for this order")
	}
	return order, nil
}

func awaitingOnlinePayment(order *db.Order) bool {
	return order.Status == db.StatusPending &&
		order.PaymentStatus != db.PaymentSucceeded &&
		payment.ParseKind(order.PaymentMethod) != payment.KindCash
}

func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*db.Order, error) {
	if userID == uuid.Nil {
		return nil, validationError("User is required", nil)
	}
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	limit = min(limit, maxOrderListLimit)
	orders, err := s.stores.Orders.ListByUser(ctx, s.stores.DB, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) ownedOrder(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Order, error) {
	order, err := s.stores.Orders.GetByID(ctx, s.stores.DB, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodeOrderNotFound, "Order not found")
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if !order.IsOwnedBy(requesterID) {
		return nil, notFoundError(CodeOrderNotFound, "Order not found")
	}
	return order, nil
}

// Cancel cancels the requester's order, restores its stock and fails any
// pending payment in one transaction.
func (s *OrderService) Cancel(ctx context.Context, orderID, requesterID uuid.UUID, reason string) (*db.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.cancel",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Cancel"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.ownedOrder(ctx, orderID, requesterID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Cancelled by customer"
	}
	cancelled, err := s.cancel(ctx, order, reason)
	if err != nil {
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	return cancelled, nil
}

func (s *OrderService) cancel(ctx context.Context, order *db.Order, reason string) (*db.Order, error) {
	if err := models.ValidateTransition(order.Status, db.StatusCancelled); err != nil {
		return nil, invalidStateError(CodeCannotCancel, fmt.Sprintf("Order cannot be cancelled in %s status", order.Status), err)
	}

	previous := order.Status
	var (
		updated         *db.Order
		refundReference string
	)
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		// Guard on the status that was read so a payment confirmed in the
		// meantime is never cancelled without its refund.
		err := s.stores.Orders.ApplyStatusChange(ctx, q, order.ID, db.StatusChange{
			From:   []db.OrderStatus{previous},
			To:     db.StatusCancelled,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		if err := restoreStock(ctx, q, s.stores.Stock, order); err != nil {
			return fmt.Errorf("failed to restore stock: %w", err)
		}
		if _, err := s.stores.Payments.FailPending(ctx, q, order.ID); err != nil {
			return err
		}
		if previous == db.StatusProcessing {
			refundReference, err = s.refundSettledPayment(ctx, q, order)
			if err != nil {
				return err
			}
		}
		updated, err = s.stores.Orders.GetByID(ctx, q, order.ID)
		return err
	})
	if err != nil {
		if serviceErr, ok := AsError(err); ok {
			return nil, serviceErr
		}
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, invalidStateError(CodeCannotCancel, "Order can no longer be cancelled", err)
		}
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	observability.RecordOrder("cancelled")
	logger := s.loggerFromContext(ctx)
	if refundReference != "" {
		logger = logger.With("refund_reference", refundReference)
	}
	logger.Info("order cancelled", "order_id", order.ID, "previous_status", previous, "reason", reason)
	s.enqueue(ctx, Notification{Kind: NotificationStatusChanged, Order: updated, PreviousStatus: previous, Reason: reason})
	return updated, nil
}

// refundSettledPayment returns the full charge of a cancelled paid order and
// records the refund reference. A gateway failure aborts the cancellation.
func (s *OrderService) refundSettledPayment(ctx context.Context, q db.Querier, order *db.Order) (string, error) {
	p, err := s.stores.Payments.GetLatestByOrder(ctx, q, order.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load payment: %w", err)
	}
	if !p.IsSettled() {
		return "", nil
	}
	_, reference, err := issueRefund(ctx, s.gateways, p, order, 0)
	if err != nil {
		return "", err
	}
	if err := s.stores.Payments.SetRefundReference(ctx, q, p.ID, reference); err != nil {
		return "", fmt.Errorf("failed to record refund reference %s: %w", reference, err)
	}
	return reference, nil
}

type UpdateStatusInput struct {
	OrderID        uuid.UUID
	Status         string
	TrackingNumber string
	Carrier        string
	Reason         string
}

// UpdateStatus is the operator transition through the order state machine.
// Payment-driven transitions have their own operations: processing happens on
// payment confirmation and refunded goes through Refund.
func (s *OrderService) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*db.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.update_status",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("UpdateStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	target, err := models.ParseOrderStatus(input.Status)
	if err != nil {
		return nil, validationError(fmt.Sprintf("Unknown order status %q", input.Status), err)
	}
	switch target {
	case db.StatusProcessing:
		return nil, invalidStateError(CodeInvalidOrderStatus, "Orders move to processing when payment is confirmed", nil)
	case db.StatusRefunded:
		return nil, invalidStateError(CodeInvalidOrderStatus, "Use the refund operation to refund an order", nil)
	}

	order, err := s.stores.Orders.GetByID(ctx, s.stores.DB, input.OrderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodeOrderNotFound, "Order not found")
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if target == db.StatusCancelled {
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			reason = "Cancelled by store"
		}
		return s.cancel(ctx, order, reason)
	}

	if err := models.ValidateTransition(order.Status, target); err != nil {
		return nil, invalidStateError(CodeInvalidOrderStatus, fmt.Sprintf("Cannot change order from %s to %s", order.Status, target), err)
	}

	change := db.StatusChange{From: []db.OrderStatus{order.Status}, To: target}
	if target == db.StatusShipped {
		change.TrackingNumber = strings.TrimSpace(input.TrackingNumber)
		change.Carrier = NormalizeCarrierName(input.Carrier)
	}

	var updated *db.Order
	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		if err := s.stores.Orders.ApplyStatusChange(ctx, q, order.ID, change); err != nil {
			return err
		}
		var err error
		updated, err = s.stores.Orders.GetByID(ctx, q, order.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, invalidStateError(CodeInvalidOrderStatus, "Order status changed concurrently", err)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	observability.RecordOrder(string(target))
	span.Status = sentry.SpanStatusOK
	s.loggerFromContext(ctx).Info("order status updated", "order_id", order.ID, "from", order.Status, "to", target)
	s.enqueue(ctx, Notification{Kind: NotificationStatusChanged, Order: updated, PreviousStatus: order.Status})
	return updated, nil
}

func (s *OrderService) enqueue(ctx context.Context, notification Notification) {
	if s.notify != nil {
		s.notify.Enqueue(ctx, notification)
	}
}
