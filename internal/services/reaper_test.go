package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
)

func TestReaper_SweepCancelsOnlyExpiredOrders(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	stale := f.createOrder(t, "card", 3)
	fresh := f.createOrder(t, "card", 2)
	if _, err := f.payments.CreateOrReuseIntent(context.Background(), stale.ID, f.userID); err != nil {
		t.Fatalf("CreateOrReuseIntent() error: %v", err)
	}
	f.store.age(stale.ID, 25*time.Hour)
	f.store.age(fresh.ID, 23*time.Hour)
	if got := f.store.stock(f.product.ID); got != 5 {
		t.Fatalf("stock before sweep = %d, want 5", got)
	}

	reaper := NewReaper(f.store.stores(), ReaperConfig{}, f.sink, discardLogger())
	result, err := reaper.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result != (SweepResult{Scanned: 1, Cancelled: 1}) {
		t.Fatalf("Sweep() = %+v, want one cancelled", result)
	}

	reaped := f.store.order(stale.ID)
	if reaped.Status != db.StatusCancelled || reaped.CancellationReason != "Payment not completed within 24 hours" {
		t.Fatalf("stale order = %s (%q)", reaped.Status, reaped.CancellationReason)
	}
	if got := f.store.order(fresh.ID).Status; got != db.StatusPending {
		t.Fatalf("fresh order status = %s, want pending", got)
	}
	if got := f.store.stock(f.product.ID); got != 8 {
		t.Fatalf("stock after sweep = %d, want 8", got)
	}
	latest, err := f.store.stores().Payments.GetLatestByOrder(context.Background(), nil, stale.ID)
	if err != nil {
		t.Fatalf("GetLatestByOrder() error: %v", err)
	}
	if latest.Status != db.PaymentFailed {
		t.Fatalf("payment status = %s, want failed", latest.Status)
	}

	again, err := reaper.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second Sweep() error: %v", err)
	}
	if again.Cancelled != 0 || f.store.stock(f.product.ID) != 8 {
		t.Fatalf("second sweep restored stock twice: %+v stock=%d", again, f.store.stock(f.product.ID))
	}
}

func TestReaper_SkipsPaidOrders(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	order := f.createOrder(t, "cash", 1)
	if _, err := f.payments.MarkCashCollected(context.Background(), order.ID); err != nil {
		t.Fatalf("MarkCashCollected() error: %v", err)
	}
	f.store.age(order.ID, 48*time.Hour)

	result, err := NewReaper(f.store.stores(), ReaperConfig{}, nil, discardLogger()).Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result.Scanned != 0 || f.store.order(order.ID).Status != db.StatusProcessing {
		t.Fatalf("paid order was reaped: %+v", result)
	}
}

type failingStock struct {
	StockLedger
	failFor uuid.UUID
}

func (s failingStock) Increment(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error {
	if productID == s.failFor {
		return context.DeadlineExceeded
	}
	return s.StockLedger.Increment(ctx, q, productID, qty)
}

func TestReaper_OrderFailureDoesNotAbortSweep(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	orders := NewOrderService(store.stores(), nil, testPricing(), nil, discardLogger())
	broken := store.addProduct("Broken", 1000, 5, true)
	healthy := store.addProduct("Healthy", 1000, 5, true)

	create := func(productID uuid.UUID) *db.Order {
		t.Helper()
		order, err := orders.Create(context.Background(), CreateOrderInput{
			UserID:          uuid.New(),
			Items:           []OrderLineInput{{ProductID: productID.String(), Quantity: 1}},
			ShippingAddress: testAddress(),
		})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		store.age(order.ID, 30*time.Hour)
		return order
	}
	failed := create(broken.ID)
	reaped := create(healthy.ID)

	stores := store.stores()
	stores.Stock = failingStock{StockLedger: stores.Stock, failFor: broken.ID}
	result, err := NewReaper(stores, ReaperConfig{}, nil, discardLogger()).Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result != (SweepResult{Scanned: 2, Cancelled: 1, Failed: 1}) {
		t.Fatalf("Sweep() = %+v", result)
	}
	if got := store.order(failed.ID).Status; got != db.StatusPending {
		t.Fatalf("failed order status = %s, want pending after rollback", got)
	}
	if got := store.order(reaped.ID).Status; got != db.StatusCancelled {
		t.Fatalf("healthy order status = %s, want cancelled", got)
	}
	if store.stock(broken.ID) != 4 || store.stock(healthy.ID) != 5 {
		t.Fatalf("stock = %d/%d, want 4/5", store.stock(broken.ID), store.stock(healthy.ID))
	}
}
