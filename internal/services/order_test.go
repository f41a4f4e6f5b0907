package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
)

func TestPricingTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subtotal int64
		want     Totals
	}{
		{
			name:     "below free shipping threshold",
			subtotal: 8000,
			want:     Totals{SubtotalCents: 8000, ShippingCents: 1000, TaxCents: 800, TotalCents: 9800},
		},
		{
			name:     "at threshold ships free",
			subtotal: 10000,
			want:     Totals{SubtotalCents: 10000, ShippingCents: 0, TaxCents: 1000, TotalCents: 11000},
		},
		{
			name:     "tax rounds to nearest cent",
			subtotal: 1005,
			want:     Totals{SubtotalCents: 1005, ShippingCents: 1000, TaxCents: 101, TotalCents: 2106},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := testPricing().Totals(tc.subtotal); got != tc.want {
				t.Fatalf("Totals(%d) = %+v, want %+v", tc.subtotal, got, tc.want)
			}
		})
	}
}

func newTestOrderService(store *memStore, sink NotificationSink) *OrderService {
	return NewOrderService(store.stores(), nil, testPricing(), sink, discardLogger())
}

func TestOrderService_CreateThenCancelRestoresStock(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sink := &recordingSink{}
	service := newTestOrderService(store, sink)
	product := store.addProduct("Cedar Soap", 2000, 10, true)
	userID := uuid.New()

	order, err := service.Create(context.Background(), CreateOrderInput{
		UserID:          userID,
		Items:           []OrderLineInput{{ProductID: product.ID.String(), Quantity: 3}},
		ShippingAddress: testAddress(),
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if order.Status != db.StatusPending || order.PaymentStatus != db.PaymentPending {
		t.Fatalf("unexpected initial state %s/%s", order.Status, order.PaymentStatus)
	}
	if order.TotalCents != 7600 {
		t.Fatalf("total = %d, want 7600", order.TotalCents)
	}
	if got := store.stock(product.ID); got != 7 {
		t.Fatalf("stock after create = %d, want 7", got)
	}

	cancelled, err := service.Cancel(context.Background(), order.ID, userID, "")
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if cancelled.Status != db.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if got := store.stock(product.ID); got != 10 {
		t.Fatalf("stock after cancel = %d, want 10", got)
	}
	if sink.count(NotificationStatusChanged) != 1 {
		t.Fatalf("expected one status notification, got %d", sink.count(NotificationStatusChanged))
	}

	if _, err := service.Cancel(context.Background(), order.ID, userID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Cancel() error = %v, want invalid state", err)
	}
	if got := store.stock(product.ID); got != 10 {
		t.Fatalf("stock after second cancel = %d, want 10", got)
	}
}

func TestOrderService_CreateMergesDuplicateLines(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	service := newTestOrderService(store, nil)
	product := store.addProduct("Zaatar", 500, 10, true)

	order, err := service.Create(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Items: []OrderLineInput{
			{ProductID: product.ID.String(), Quantity: 2},
			{ProductID: product.ID.String(), Quantity: 1},
		},
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 3 {
		t.Fatalf("items = %+v, want one line of 3", order.Items)
	}
	if order.PaymentMethod != "cash" {
		t.Fatalf("payment method = %q, want cash", order.PaymentMethod)
	}
}

func TestOrderService_InsufficientStockRollsBack(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	service := newTestOrderService(store, nil)
	plenty := store.addProduct("Olive Oil", 1500, 10, true)
	scarce := store.addProduct("Saffron", 4000, 1, true)

	_, err := service.Create(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Items: []OrderLineInput{
			{ProductID: plenty.ID.String(), Quantity: 4},
			{ProductID: scarce.ID.String(), Quantity: 2},
		},
		ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("Create() error = %v, want insufficient stock", err)
	}
	serviceErr, ok := AsError(err)
	if !ok || serviceErr.Code != CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}
	if store.stock(plenty.ID) != 10 || store.stock(scarce.ID) != 1 {
		t.Fatalf("stock changed after rollback: %d/%d", store.stock(plenty.ID), store.stock(scarce.ID))
	}
}

func TestOrderService_CreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	service := newTestOrderService(store, nil)
	active := store.addProduct("Active", 1000, 5, true)
	inactive := store.addProduct("Retired", 1000, 5, false)

	tests := []struct {
		name    string
		input   CreateOrderInput
		wantErr error
		code    string
	}{
		{
			name:    "no items",
			input:   CreateOrderInput{UserID: uuid.New(), ShippingAddress: testAddress()},
			wantErr: ErrValidation,
			code:    CodeValidation,
		},
		{
			name: "zero quantity",
			input: CreateOrderInput{
				UserID:          uuid.New(),
				Items:           []OrderLineInput{{ProductID: active.ID.String(), Quantity: 0}},
				ShippingAddress: testAddress(),
			},
			wantErr: ErrValidation,
			code:    CodeValidation,
		},
		{
			name: "missing address",
			input: CreateOrderInput{
				UserID: uuid.New(),
				Items:  []OrderLineInput{{ProductID: active.ID.String(), Quantity: 1}},
			},
			wantErr: ErrValidation,
			code:    CodeValidation,
		},
		{
			name: "unknown product",
			input: CreateOrderInput{
				UserID:          uuid.New(),
				Items:           []OrderLineInput{{ProductID: uuid.NewString(), Quantity: 1}},
				ShippingAddress: testAddress(),
			},
			wantErr: ErrNotFound,
			code:    CodeProductNotFound,
		},
		{
			name: "inactive product",
			input: CreateOrderInput{
				UserID:          uuid.New(),
				Items:           []OrderLineInput{{ProductID: inactive.ID.String(), Quantity: 1}},
				ShippingAddress: testAddress(),
			},
			wantErr: ErrProductInactive,
			code:    CodeProductInactive,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := service.Create(context.Background(), tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tc.wantErr)
			}
			if serviceErr, ok := AsError(err); !ok || serviceErr.Code != tc.code {
				t.Fatalf("code = %v, want %s", err, tc.code)
			}
		})
	}

	if store.stock(active.ID) != 5 {
		t.Fatalf("rejected orders changed stock: %d", store.stock(active.ID))
	}
}

func TestOrderService_GetHidesUnpaidOnlineOrders(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	service := newTestOrderService(store, nil)
	product := store.addProduct("Tea", 1000, 10, true)
	userID := uuid.New()

	create := func(method string) *db.Order {
		t.Helper()
		order, err := service.Create(context.Background(), CreateOrderInput{
			UserID:          userID,
			Items:           []OrderLineInput{{ProductID: product.ID.String(), Quantity: 1}},
			ShippingAddress: testAddress(),
			PaymentMethod:   method,
		})
		if err != nil {
			t.Fatalf("Create(%s) error: %v", method, err)
		}
		return order
	}
	card := create("card")
	cash := create("cash")

	if _, err := service.Get(context.Background(), card.ID, userID, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Get(card) error = %v, want forbidden", err)
	}
	if _, err := service.Get(context.Background(), card.ID, userID, true); err != nil {
		t.Fatalf("Get(card, includePending) error: %v", err)
	}
	if _, err := service.Get(context.Background(), cash.ID, userID, false); err != nil {
		t.Fatalf("Get(cash) error: %v", err)
	}
	if _, err := service.Get(context.Background(), cash.ID, uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(other user) error = %v, want not found", err)
	}

	orders, err := service.ListForUser(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("ListForUser() error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("ListForUser() = %d orders, want 2", len(orders))
	}
}

func TestOrderService_UpdateStatus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sink := &recordingSink{}
	service := newTestOrderService(store, sink)
	product := store.addProduct("Honey", 1200, 10, true)

	order, err := service.Create(context.Background(), CreateOrderInput{
		UserID:          uuid.New(),
		Items:           []OrderLineInput{{ProductID: product.ID.String(), Quantity: 2}},
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "shipped"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("pending -> shipped error = %v, want invalid state", err)
	}
	if _, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "processing"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("manual processing error = %v, want invalid state", err)
	}
	if _, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "bogus"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status error = %v, want validation", err)
	}

	store.mu.Lock()
	store.orders[order.ID].Status = db.StatusProcessing
	store.orders[order.ID].PaymentStatus = db.PaymentSucceeded
	store.mu.Unlock()

	shipped, err := service.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID:        order.ID,
		Status:         "shipped",
		TrackingNumber: " 1Z999 ",
		Carrier:        "united parcel service",
	})
	if err != nil {
		t.Fatalf("UpdateStatus(shipped) error: %v", err)
	}
	if shipped.Carrier != "UPS" || shipped.TrackingNumber != "1Z999" || shipped.ShippedAt.IsZero() {
		t.Fatalf("unexpected shipped order: carrier=%q tracking=%q", shipped.Carrier, shipped.TrackingNumber)
	}

	if _, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "delivered"}); err != nil {
		t.Fatalf("UpdateStatus(delivered) error: %v", err)
	}
	if sink.count(NotificationStatusChanged) != 2 {
		t.Fatalf("status notifications = %d, want 2", sink.count(NotificationStatusChanged))
	}

	// delivered is terminal for operator transitions.
	if _, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "cancelled"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("delivered -> cancelled error = %v, want invalid state", err)
	}
	if got := store.order(order.ID).Status; got != db.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got)
	}
	if got := store.stock(product.ID); got != 8 {
		t.Fatalf("stock = %d, want 8", got)
	}
}

func TestOrderService_AdminCancelRestoresStock(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	service := newTestOrderService(store, nil)
	product := store.addProduct("Sumac", 900, 6, true)

	order, err := service.Create(context.Background(), CreateOrderInput{
		UserID:          uuid.New(),
		Items:           []OrderLineInput{{ProductID: product.ID.String(), Quantity: 6}},
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	cancelled, err := service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: "cancelled", Reason: "Out of delivery zone"})
	if err != nil {
		t.Fatalf("UpdateStatus(cancelled) error: %v", err)
	}
	if cancelled.CancellationReason != "Out of delivery zone" {
		t.Fatalf("reason = %q", cancelled.CancellationReason)
	}
	if got := store.stock(product.ID); got != 6 {
		t.Fatalf("stock = %d, want 6", got)
	}
}
