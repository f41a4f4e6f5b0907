package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/checkout/internal/db"
)

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error
}

type ProductReader interface {
	GetByIDs(ctx context.Context, q db.Querier, ids []uuid.UUID) (map[uuid.UUID]*db.Product, error)
}

type StockLedger interface {
	Decrement(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) (int, error)
	Increment(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error
}

type OrderRepository interface {
	Create(ctx context.Context, q db.Querier, order *db.Order) error
	GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*db.Order, error)
	GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*db.Order, error)
	ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID, limit int) ([]*db.Order, error)
	ListAbandoned(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ApplyStatusChange(ctx context.Context, q db.Querier, orderID uuid.UUID, change db.StatusChange) error
}

type PaymentRepository interface {
	Create(ctx context.Context, q db.Querier, payment *db.Payment) error
	GetPendingByOrder(ctx context.Context, q db.Querier, orderID uuid.UUID) (*db.Payment, error)
	GetLatestByOrder(ctx context.Context, q db.Querier, orderID uuid.UUID) (*db.Payment, error)
	GetByProviderID(ctx context.Context, q db.Querier, providerPaymentID string) (*db.Payment, error)
	GetByProviderIDForUpdate(ctx context.Context, q db.Querier, providerPaymentID string) (*db.Payment, error)
	MarkSucceeded(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
	FailPending(ctx context.Context, q db.Querier, orderID uuid.UUID) (int64, error)
	SetRefundReference(ctx context.Context, q db.Querier, paymentID uuid.UUID, reference string) error
}

type CartRepository interface {
	ClearForUser(ctx context.Context, q db.Querier, userID uuid.UUID) error
}

// Stores bundles the persistence ports shared by the checkout services. DB is
// used for reads outside a transaction.
type Stores struct {
	DB       db.Querier
	Tx       TxRunner
	Products ProductReader
	Stock    StockLedger
	Orders   OrderRepository
	Payments PaymentRepository
	Carts    CartRepository
}

func NewPostgresStores(pool *pgxpool.Pool, logger *slog.Logger) Stores {
	return Stores{
		DB:       pool,
		Tx:       db.NewTxRunner(pool, logger),
		Products: db.NewProductStore(),
		Stock:    db.NewStockLedger(),
		Orders:   db.NewOrderStore(),
		Payments: db.NewPaymentStore(),
		Carts:    db.NewCartStore(),
	}
}

// restoreStock returns every item of order to inventory.
func restoreStock(ctx context.Context, q db.Querier, stock StockLedger, order *db.Order) error {
	for _, item := range order.Items {
		if err := stock.Increment(ctx, q, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}
