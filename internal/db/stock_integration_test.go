package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("checkout"),
		postgres.WithPassword("checkout"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	if err := Migrate(dsn); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, sku string, stock int) *Product {
	t.Helper()
	product := &Product{SKU: sku, Name: sku, PriceCents: 1000, StockQuantity: stock, IsActive: true}
	if err := NewProductStore().Upsert(context.Background(), pool, product); err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return product
}

func TestStockLedger_ConcurrentDecrementNeverOversells(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	product := seedProduct(t, pool, "LAST_UNITS", 5)

	runner := NewTxRunner(pool, nil)
	ledger := NewStockLedger()

	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.WithinTx(ctx, func(ctx context.Context, q Querier) error {
				_, err := ledger.Decrement(ctx, q, product.ID, 1)
				return err
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 5 || insufficient.Load() != 15 {
		t.Fatalf("succeeded=%d insufficient=%d, want 5/15", succeeded.Load(), insufficient.Load())
	}
	reloaded, err := NewProductStore().GetBySKU(ctx, pool, "LAST_UNITS")
	if err != nil {
		t.Fatalf("failed to reload product: %v", err)
	}
	if reloaded.StockQuantity != 0 {
		t.Fatalf("stock = %d, want 0", reloaded.StockQuantity)
	}
}

func TestStockLedger_MultiLineReservationIsAllOrNothing(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	plenty := seedProduct(t, pool, "PLENTY", 10)
	scarce := seedProduct(t, pool, "SCARCE", 1)

	ledger := NewStockLedger()
	err := NewTxRunner(pool, nil).WithinTx(ctx, func(ctx context.Context, q Querier) error {
		if _, err := ledger.Decrement(ctx, q, plenty.ID, 3); err != nil {
			return err
		}
		_, err := ledger.Decrement(ctx, q, scarce.ID, 2)
		return err
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	products, err := NewProductStore().GetByIDs(ctx, pool, []uuid.UUID{plenty.ID, scarce.ID})
	if err != nil {
		t.Fatalf("failed to reload products: %v", err)
	}
	if products[plenty.ID].StockQuantity != 10 || products[scarce.ID].StockQuantity != 1 {
		t.Fatalf("stock changed after rollback: plenty=%d scarce=%d", products[plenty.ID].StockQuantity, products[scarce.ID].StockQuantity)
	}
}

func TestOrderStore_AbandonedSelectionAndGuardedCancel(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	product := seedProduct(t, pool, "REAPED", 4)
	orders := NewOrderStore()

	newOrder := func(age time.Duration) *Order {
		order := &Order{
			UserID:          uuid.New(),
			Status:          StatusPending,
			PaymentStatus:   PaymentPending,
			PaymentMethod:   "cash",
			ShippingAddress: Address{FirstName: "Ada", LastName: "L", Address: "1 St", City: "Beirut", PostalCode: "1100", Country: "LB"},
			SubtotalCents:   1000,
			TotalCents:      1000,
			Items: []OrderItem{{
				ProductID: product.ID, ProductName: product.Name, ProductSKU: product.SKU,
				UnitPriceCents: 1000, Quantity: 1, TotalPriceCents: 1000,
			}},
		}
		if err := orders.Create(ctx, pool, order); err != nil {
			t.Fatalf("failed to create order: %v", err)
		}
		if _, err := pool.Exec(ctx, `UPDATE orders SET created_at = NOW() - make_interval(hours => $2::int) WHERE id = $1`, order.ID, int(age.Hours())); err != nil {
			t.Fatalf("failed to age order: %v", err)
		}
		return order
	}

	stale := newOrder(25 * time.Hour)
	fresh := newOrder(23 * time.Hour)

	cutoff := time.Now().Add(-24 * time.Hour)
	ids, err := orders.ListAbandoned(ctx, pool, cutoff, 10)
	if err != nil {
		t.Fatalf("ListAbandoned() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Fatalf("ListAbandoned() = %v, want only %s", ids, stale.ID)
	}

	change := StatusChange{
		From:                 []OrderStatus{StatusPending},
		To:                   StatusCancelled,
		RequirePaymentStatus: PaymentPending,
		CreatedBefore:        cutoff,
		Reason:               "Payment not completed within 24 hours",
	}
	if err := orders.ApplyStatusChange(ctx, pool, stale.ID, change); err != nil {
		t.Fatalf("ApplyStatusChange(stale) error: %v", err)
	}
	if err := orders.ApplyStatusChange(ctx, pool, fresh.ID, change); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("ApplyStatusChange(fresh) error = %v, want ErrInvalidStatusTransition", err)
	}

	reloaded, err := orders.GetByID(ctx, pool, stale.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if reloaded.Status != StatusCancelled || reloaded.CancellationReason == "" || reloaded.CancelledAt.IsZero() {
		t.Fatalf("unexpected cancelled order: %+v", reloaded)
	}
	if len(reloaded.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(reloaded.Items))
	}
}

func TestPaymentStore_OneLivePaymentPerOrder(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	product := seedProduct(t, pool, "PAYABLE", 1)

	order := &Order{
		UserID:          uuid.New(),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   "card",
		ShippingAddress: Address{FirstName: "Ada", LastName: "L", Address: "1 St", City: "Beirut", PostalCode: "1100", Country: "LB"},
		SubtotalCents:   1000,
		TotalCents:      1000,
		Items:           []OrderItem{{ProductID: product.ID, ProductName: "PAYABLE", ProductSKU: "PAYABLE", UnitPriceCents: 1000, Quantity: 1, TotalPriceCents: 1000}},
	}
	if err := NewOrderStore().Create(ctx, pool, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	payments := NewPaymentStore()
	first := &Payment{OrderID: order.ID, Provider: "card", ProviderPaymentID: "cs_1", AmountCents: 1000, Currency: "usd", Status: PaymentPending}
	if err := payments.Create(ctx, pool, first); err != nil {
		t.Fatalf("Create(first) error: %v", err)
	}
	second := &Payment{OrderID: order.ID, Provider: "card", ProviderPaymentID: "cs_2", AmountCents: 1000, Currency: "usd", Status: PaymentPending}
	if err := payments.Create(ctx, pool, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create(second) error = %v, want ErrDuplicate", err)
	}

	if err := payments.MarkSucceeded(ctx, pool, first.ID); err != nil {
		t.Fatalf("MarkSucceeded() error: %v", err)
	}
	if err := payments.MarkSucceeded(ctx, pool, first.ID); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("second MarkSucceeded() error = %v, want ErrInvalidStatusTransition", err)
	}
}
