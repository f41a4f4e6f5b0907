package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type ProductStore struct{}

func NewProductStore() *ProductStore {
	return &ProductStore{}
}

const productColumns = `id, sku, name, price_cents, stock_quantity, is_active, created_at, updated_at`

// GetByIDs returns the products found for the given ids, keyed by id.
// Missing ids are simply absent from the result.
func (s *ProductStore) GetByIDs(ctx context.Context, q Querier, ids []uuid.UUID) (map[uuid.UUID]*Product, error) {
	products := make(map[uuid.UUID]*Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := q.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	return products, nil
}

func (s *ProductStore) GetBySKU(ctx context.Context, q Querier, sku string) (*Product, error) {
	product, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku))
	if err != nil {
		return nil, notFound(err)
	}
	return product, nil
}

// Upsert inserts or updates a product keyed by SKU. Stock is only set on insert
// so reseeding never overwrites live inventory.
func (s *ProductStore) Upsert(ctx context.Context, q Querier, product *Product) error {
	stock, err := intToInt32(product.StockQuantity, "stock quantity")
	if err != nil {
		return err
	}

	var createdAt, updatedAt pgtype.Timestamptz
	err = q.QueryRow(ctx, `
		INSERT INTO products (sku, name, price_cents, stock_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
		    is_active = EXCLUDED.is_active, updated_at = NOW()
		RETURNING id, stock_quantity, created_at, updated_at
	`, product.SKU, product.Name, product.PriceCents, stock, product.IsActive).Scan(&product.ID, &stock, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.SKU, err)
	}

	product.StockQuantity = int(stock)
	product.CreatedAt = createdAt.Time
	product.UpdatedAt = updatedAt.Time
	return nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		product   Product
		stock     int32
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&product.ID, &product.SKU, &product.Name, &product.PriceCents, &stock, &product.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	product.StockQuantity = int(stock)
	product.CreatedAt = createdAt.Time
	product.UpdatedAt = updatedAt.Time
	return &product, nil
}

// StockLedger adjusts product inventory. Both operations run on the caller's
// Querier so a multi-line order reserves every line or none.
type StockLedger struct{}

func NewStockLedger() *StockLedger {
	return &StockLedger{}
}

// Decrement removes qty units only if at least qty are available and returns
// the remaining stock. The predicate is checked and applied in one statement,
// so concurrent checkouts for the last unit cannot both succeed.
func (l *StockLedger) Decrement(ctx context.Context, q Querier, productID uuid.UUID, qty int) (int, error) {
	qtyInt32, err := positiveQuantity(qty)
	if err != nil {
		return 0, err
	}

	var remaining int32
	err = q.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity
	`, productID, qtyInt32).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: product %s", ErrInsufficientStock, productID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return int(remaining), nil
}

// Increment restores qty units unconditionally.
func (l *StockLedger) Increment(ctx context.Context, q Querier, productID uuid.UUID, qty int) error {
	qtyInt32, err := positiveQuantity(qty)
	if err != nil {
		return err
	}

	cmdTag, err := q.Exec(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
	`, productID, qtyInt32)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return nil
}

func positiveQuantity(qty int) (int32, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("quantity must be positive: %d", qty)
	}
	return intToInt32(qty, "quantity")
}
