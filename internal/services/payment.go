package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/models"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/payment"
)

// GatewayResolver selects the adapter for a payment kind.
type GatewayResolver interface {
	Resolve(kind payment.Kind) (payment.Gateway, error)
}

// PaymentConfirmed is the single internal event fed by client polling,
// provider webhooks and operator cash collection.
type PaymentConfirmed struct {
	Provider          payment.Kind
	ProviderPaymentID string
}

type ConfirmResult struct {
	Order            *db.Order
	Payment          *db.Payment
	Paid             bool
	AlreadyProcessed bool
}

type SessionVerification struct {
	OrderID          uuid.UUID        `json:"orderId"`
	OrderNumber      int              `json:"orderNumber"`
	OrderStatus      db.OrderStatus   `json:"orderStatus"`
	PaymentStatus    db.PaymentStatus `json:"paymentStatus"`
	Paid             bool             `json:"paid"`
	AlreadyProcessed bool             `json:"alreadyProcessed"`
}

type RefundResult struct {
	Order  *db.Order
	Refund *payment.RefundRecord
}

type PaymentOrchestrator struct {
	stores   Stores
	gateways GatewayResolver
	currency string
	notify   NotificationSink
	logger   *slog.Logger
}

func NewPaymentOrchestrator(stores Stores, gateways GatewayResolver, currency string, notify NotificationSink, logger *slog.Logger) *PaymentOrchestrator {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	return &PaymentOrchestrator{
		stores:   stores,
		gateways: gateways,
		currency: currency,
		notify:   notify,
		logger:   logger,
	}
}

func (s *PaymentOrchestrator) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// CreateOrReuseIntent returns the order's pending payment, creating a
// provider intent only when none exists.
func (s *PaymentOrchestrator) CreateOrReuseIntent(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Payment, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.create_intent",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("CreateOrReuseIntent"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.ownedOrder(ctx, orderID, requesterID)
	if err != nil {
		return nil, err
	}
	p, err := s.ensureIntent(ctx, order)
	if err != nil {
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	return p, nil
}

func (s *PaymentOrchestrator) ensureIntent(ctx context.Context, order *db.Order) (*db.Payment, error) {
	logger := s.loggerFromContext(ctx)
	kind := payment.ParseKind(order.PaymentMethod)
	recordFailure := func(reason string) {
		observability.RecordCheckout(ctx, kind.String(), "intent.failed", attribute.String("reason", reason))
	}

	if order.PaymentStatus == db.PaymentSucceeded {
		recordFailure("already_paid")
		return nil, conflictError(CodePaymentAlreadyCompleted, "Payment already completed for this order")
	}
	if order.Status != db.StatusPending {
		recordFailure("invalid_status")
		return nil, invalidStateError(CodeInvalidOrderStatus, fmt.Sprintf("Order is %s and cannot be paid", order.Status), nil)
	}

	existing, err := s.stores.Payments.GetPendingByOrder(ctx, s.stores.DB, order.ID)
	switch {
	case err == nil:
		observability.RecordCheckout(ctx, kind.String(), "intent.reused")
		return existing, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("failed to load pending payment: %w", err)
	}

	gateway, err := s.gateways.Resolve(kind)
	if err != nil {
		recordFailure("gateway_unavailable")
		return nil, newError(KindPaymentGateway, CodeGatewayUnavailable, fmt.Sprintf("Payment method %s is not available", kind), err)
	}

	intent, err := gateway.CreateIntent(ctx, payment.IntentRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		AmountCents:   order.TotalCents,
		Currency:      s.currency,
		CustomerEmail: order.ContactEmail(),
	})
	if err != nil {
		recordFailure("gateway_error")
		logger.Error("payment intent creation failed", "order_id", order.ID, "provider", kind, "error", err)
		return nil, paymentGatewayError(err)
	}

	p := &db.Payment{
		OrderID:           order.ID,
		Provider:          kind.String(),
		ProviderPaymentID: intent.ProviderID,
		AmountCents:       order.TotalCents,
		Currency:          s.currency,
		Status:            db.PaymentPending,
		TestMode:          intent.TestMode,
		CheckoutURL:       intent.RedirectURL,
		ClientSecret:      intent.ClientSecret,
	}
	if err := s.stores.Payments.Create(ctx, s.stores.DB, p); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			winner, readErr := s.stores.Payments.GetPendingByOrder(ctx, s.stores.DB, order.ID)
			if readErr == nil {
				logger.Info("concurrent intent creation, reusing winner", "order_id", order.ID, "provider_payment_id", winner.ProviderPaymentID)
				return winner, nil
			}
			return nil, newError(KindConflict, CodePaymentInProgress, "A payment is already in progress for this order", err)
		}
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	observability.RecordCheckout(ctx, kind.String(), "intent.created", attribute.String("test_mode", strconv.FormatBool(intent.TestMode)))
	logger.Info("payment intent created",
		"order_id", order.ID,
		"provider", kind,
		"provider_payment_id", p.ProviderPaymentID,
		"test_mode", p.TestMode,
	)
	return p, nil
}

// Confirm is the polling trigger. It asks the provider whether the payment
// settled and feeds a positive answer into HandlePaymentConfirmed.
func (s *PaymentOrchestrator) Confirm(ctx context.Context, providerPaymentID string, requesterID uuid.UUID) (*ConfirmResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.confirm",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Confirm"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, validationError("paymentIntentId is required", nil)
	}
	p, err := s.stores.Payments.GetByProviderID(ctx, s.stores.DB, providerPaymentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodePaymentNotFound, "Payment not found")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	order, err := s.ownedOrder(ctx, p.OrderID, requesterID)
	if err != nil {
		return nil, err
	}
	if p.IsSettled() {
		return nil, conflictError(CodePaymentAlreadyConfirmed, "Payment already confirmed")
	}

	kind := payment.ParseKind(p.Provider)
	gateway, err := s.gateways.Resolve(kind)
	if err != nil {
		return nil, newError(KindPaymentGateway, CodeGatewayUnavailable, fmt.Sprintf("Payment method %s is not available", kind), err)
	}
	confirmation, err := gateway.Confirm(ctx, providerPaymentID)
	if err != nil {
		observability.RecordCheckout(ctx, kind.String(), "confirm.failed")
		return nil, paymentGatewayError(err)
	}
	if !confirmation.Paid {
		span.Status = sentry.SpanStatusOK
		return &ConfirmResult{Order: order, Payment: p}, nil
	}

	result, err := s.HandlePaymentConfirmed(ctx, PaymentConfirmed{Provider: kind, ProviderPaymentID: providerPaymentID})
	if err != nil {
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	return result, nil
}

// HandleWebhook verifies and applies a provider notification. Nothing is
// read or written before the signature checks out.
func (s *PaymentOrchestrator) HandleWebhook(ctx context.Context, kind payment.Kind, payload []byte, signature string) error {
	gateway, err := s.gateways.Resolve(kind)
	if err != nil {
		return newError(KindPaymentGateway, CodeGatewayUnavailable, fmt.Sprintf("Payment method %s is not available", kind), err)
	}
	if !gateway.VerifyWebhookSignature(payload, signature) {
		observability.RecordCheckout(ctx, kind.String(), "webhook.rejected")
		return securityError("Invalid webhook signature")
	}
	parser, ok := gateway.(payment.WebhookParser)
	if !ok {
		return validationError(fmt.Sprintf("Provider %s does not accept webhooks", kind), nil)
	}
	event, err := parser.ParseWebhook(payload)
	if err != nil {
		return validationError("Invalid webhook payload", err)
	}
	return s.ApplyWebhookEvent(ctx, kind, event)
}

// ApplyWebhookEvent applies an already verified provider event.
func (s *PaymentOrchestrator) ApplyWebhookEvent(ctx context.Context, kind payment.Kind, event *payment.WebhookEvent) error {
	logger := s.loggerFromContext(ctx).With("provider", kind)
	if event == nil || event.ProviderID == "" {
		return validationError("Webhook event has no payment reference", nil)
	}
	switch {
	case event.Paid:
		_, err := s.HandlePaymentConfirmed(ctx, PaymentConfirmed{Provider: kind, ProviderPaymentID: event.ProviderID})
		return err
	case event.Failed:
		return s.HandlePaymentFailed(ctx, event.ProviderID)
	default:
		logger.Debug("ignoring webhook status", "provider_payment_id", event.ProviderID, "status", event.Status)
		return nil
	}
}

// HandlePaymentConfirmed settles a payment and moves its order to
// processing. Repeated delivery of the same event is a no-op reported as
// AlreadyProcessed.
func (s *PaymentOrchestrator) HandlePaymentConfirmed(ctx context.Context, event PaymentConfirmed) (*ConfirmResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.handle_confirmed",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("HandlePaymentConfirmed"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("provider", event.Provider, "provider_payment_id", event.ProviderPaymentID)
	result := &ConfirmResult{Paid: true}
	var previous db.OrderStatus

	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		p, err := s.stores.Payments.GetByProviderIDForUpdate(ctx, q, event.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFoundError(CodePaymentNotFound, "Payment not found")
			}
			return err
		}
		order, err := s.stores.Orders.GetByIDForUpdate(ctx, q, p.OrderID)
		if err != nil {
			return err
		}
		if p.IsSettled() {
			result.AlreadyProcessed = true
			result.Payment = p
			result.Order = order
			return nil
		}
		if p.Status != db.PaymentPending {
			return invalidStateError(CodeInvalidOrderStatus, fmt.Sprintf("Payment is %s and cannot be confirmed", p.Status), nil)
		}
		if err := models.ValidateTransition(order.Status, db.StatusProcessing); err != nil {
			return invalidStateError(CodeInvalidOrderStatus, fmt.Sprintf("Order is %s and cannot be confirmed", order.Status), err)
		}
		previous = order.Status

		if err := s.stores.Payments.MarkSucceeded(ctx, q, p.ID); err != nil {
			return err
		}
		err = s.stores.Orders.ApplyStatusChange(ctx, q, order.ID, db.StatusChange{
			From:          []db.OrderStatus{db.StatusPending},
			To:            db.StatusProcessing,
			PaymentStatus: db.PaymentSucceeded,
		})
		if err != nil {
			return err
		}
		if err := s.stores.Carts.ClearForUser(ctx, q, order.UserID); err != nil {
			return err
		}

		p.Status = db.PaymentSucceeded
		result.Payment = p
		result.Order, err = s.stores.Orders.GetByID(ctx, q, order.ID)
		return err
	})
	if err != nil {
		observability.RecordCheckout(ctx, event.Provider.String(), "confirm.failed")
		if serviceErr, ok := AsError(err); ok {
			if serviceErr.Kind == KindInvalidState {
				logger.Error("provider reported payment for a closed order", "error", err)
			}
			return nil, serviceErr
		}
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, invalidStateError(CodeInvalidOrderStatus, "Order changed while confirming payment", err)
		}
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	span.Status = sentry.SpanStatusOK
	if result.AlreadyProcessed {
		observability.RecordCheckout(ctx, event.Provider.String(), "payment.duplicate")
		logger.Info("payment already confirmed", "order_id", result.Order.ID)
		return result, nil
	}

	observability.RecordCheckout(ctx, event.Provider.String(), "payment.confirmed")
	logger.Info("payment confirmed", "order_id", result.Order.ID, "order_number", result.Order.OrderNumber)
	if s.notify != nil {
		s.notify.Enqueue(ctx, Notification{Kind: NotificationOrderConfirmed, Order: result.Order, PreviousStatus: previous})
	}
	return result, nil
}

// HandlePaymentFailed fails a pending payment. The order stays pending so the
// customer can retry or the reaper can release its stock.
func (s *PaymentOrchestrator) HandlePaymentFailed(ctx context.Context, providerPaymentID string) error {
	logger := s.loggerFromContext(ctx).With("provider_payment_id", providerPaymentID)
	var failed int64
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		p, err := s.stores.Payments.GetByProviderIDForUpdate(ctx, q, providerPaymentID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFoundError(CodePaymentNotFound, "Payment not found")
			}
			return err
		}
		if p.Status != db.PaymentPending {
			return nil
		}
		failed, err = s.stores.Payments.FailPending(ctx, q, p.OrderID)
		return err
	})
	if err != nil {
		if serviceErr, ok := AsError(err); ok {
			return serviceErr
		}
		return fmt.Errorf("failed to record payment failure: %w", err)
	}
	if failed > 0 {
		logger.Info("payment failed")
	}
	return nil
}

// MarkCashCollected records that a cash on delivery order was paid.
func (s *PaymentOrchestrator) MarkCashCollected(ctx context.Context, orderID uuid.UUID) (*ConfirmResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.ParseKind(order.PaymentMethod) != payment.KindCash {
		return nil, invalidStateError(CodeInvalidOrderStatus, "Only cash on delivery orders can be marked as paid", nil)
	}
	p, err := s.ensureIntent(ctx, order)
	if err != nil {
		return nil, err
	}
	return s.HandlePaymentConfirmed(ctx, PaymentConfirmed{Provider: payment.KindCash, ProviderPaymentID: p.ProviderPaymentID})
}

// PaymentStatus returns the latest payment of the requester's order.
func (s *PaymentOrchestrator) PaymentStatus(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Payment, error) {
	if _, err := s.ownedOrder(ctx, orderID, requesterID); err != nil {
		return nil, err
	}
	p, err := s.stores.Payments.GetLatestByOrder(ctx, s.stores.DB, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodePaymentNotFound, "Payment not found")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// VerifyStripeSession handles the return from hosted card checkout.
func (s *PaymentOrchestrator) VerifyStripeSession(ctx context.Context, sessionID string, requesterID uuid.UUID) (*SessionVerification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, validationError("session_id is required", nil)
	}
	gateway, err := s.gateways.Resolve(payment.KindCard)
	if err != nil {
		return nil, newError(KindPaymentGateway, CodeGatewayUnavailable, "Card payments are not available", err)
	}
	confirmation, err := gateway.Confirm(ctx, sessionID)
	if err != nil {
		return nil, paymentGatewayError(err)
	}

	orderID := confirmation.OrderID
	if orderID == uuid.Nil {
		p, err := s.stores.Payments.GetByProviderID(ctx, s.stores.DB, sessionID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, notFoundError(CodeOrderNotFound, "Order not found")
			}
			return nil, fmt.Errorf("failed to load payment: %w", err)
		}
		orderID = p.OrderID
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(requesterID) {
		return nil, forbiddenError(CodeForbidden, "This checkout session belongs to another customer")
	}

	verification := &SessionVerification{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
		Paid:          confirmation.Paid,
	}
	if !confirmation.Paid {
		return verification, nil
	}
	result, err := s.HandlePaymentConfirmed(ctx, PaymentConfirmed{Provider: payment.KindCard, ProviderPaymentID: sessionID})
	if err != nil {
		return nil, err
	}
	verification.OrderStatus = result.Order.Status
	verification.PaymentStatus = result.Order.PaymentStatus
	verification.AlreadyProcessed = result.AlreadyProcessed
	return verification, nil
}

// Refund returns a settled payment through its provider and marks the order
// refunded. AmountCents of zero refunds the full payment.
func (s *PaymentOrchestrator) Refund(ctx context.Context, orderID uuid.UUID, amountCents int64) (*RefundResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.refund",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Refund"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(order.Status, db.StatusRefunded); err != nil {
		return nil, invalidStateError(CodeInvalidOrderStatus, fmt.Sprintf("Order is %s and cannot be refunded", order.Status), err)
	}
	if amountCents < 0 || amountCents > order.TotalCents {
		return nil, validationError("Refund amount must be between 0 and the order total", nil)
	}
	p, err := s.stores.Payments.GetLatestByOrder(ctx, s.stores.DB, order.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodePaymentNotFound, "Payment not found")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if !p.IsSettled() {
		return nil, invalidStateError(CodeInvalidOrderStatus, "Order has no settled payment to refund", nil)
	}

	record, reference, err := issueRefund(ctx, s.gateways, p, order, amountCents)
	if err != nil {
		return nil, err
	}

	var updated *db.Order
	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		err := s.stores.Orders.ApplyStatusChange(ctx, q, order.ID, db.StatusChange{
			From: []db.OrderStatus{order.Status},
			To:   db.StatusRefunded,
		})
		if err != nil {
			return err
		}
		if err := s.stores.Payments.SetRefundReference(ctx, q, p.ID, reference); err != nil {
			return err
		}
		updated, err = s.stores.Orders.GetByID(ctx, q, order.ID)
		return err
	})
	if err != nil {
		s.loggerFromContext(ctx).Error("refund issued but order update failed", "order_id", order.ID, "refund_reference", reference, "error", err)
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, invalidStateError(CodeInvalidOrderStatus, "Order changed while refunding", err)
		}
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	span.Status = sentry.SpanStatusOK
	s.loggerFromContext(ctx).Info("order refunded", "order_id", order.ID, "provider", p.Provider, "refund_status", record.Status)
	if s.notify != nil {
		s.notify.Enqueue(ctx, Notification{Kind: NotificationStatusChanged, Order: updated, PreviousStatus: order.Status})
	}
	return &RefundResult{Order: updated, Refund: record}, nil
}

func (s *PaymentOrchestrator) loadOrder(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	order, err := s.stores.Orders.GetByID(ctx, s.stores.DB, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, notFoundError(CodeOrderNotFound, "Order not found")
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func (s *PaymentOrchestrator) ownedOrder(ctx context.Context, orderID, requesterID uuid.UUID) (*db.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(requesterID) {
		return nil, notFoundError(CodeOrderNotFound, "Order not found")
	}
	return order, nil
}
