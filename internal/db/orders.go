package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type OrderStore struct{}

func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

const orderColumns = `id, order_number, user_id, email, status, payment_status, payment_method,
	shipping_address, billing_address, subtotal_cents, shipping_cents, tax_cents, total_cents,
	notes, tracking_number, carrier, cancellation_reason,
	created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at, refunded_at`

// Create inserts the order and its item snapshots. It must run on the same
// Querier as the stock reservation.
func (s *OrderStore) Create(ctx context.Context, q Querier, order *Order) error {
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}
	var billingJSON []byte
	if order.BillingAddress != nil {
		billingJSON, err = json.Marshal(order.BillingAddress)
		if err != nil {
			return fmt.Errorf("failed to encode billing address: %w", err)
		}
	}

	var (
		orderNumber int64
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err = q.QueryRow(ctx, `
		INSERT INTO orders (
			user_id, email, status, payment_status, payment_method,
			shipping_address, billing_address,
			subtotal_cents, shipping_cents, tax_cents, total_cents, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, order_number, created_at, updated_at
	`,
		order.UserID,
		pgtype.Text{String: order.Email, Valid: order.Email != ""},
		string(order.Status),
		string(order.PaymentStatus),
		order.PaymentMethod,
		shippingJSON,
		billingJSON,
		order.SubtotalCents,
		order.ShippingCents,
		order.TaxCents,
		order.TotalCents,
		pgtype.Text{String: order.Notes, Valid: order.Notes != ""},
	).Scan(&order.ID, &orderNumber, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.OrderNumber = int(orderNumber)
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		quantity, err := intToInt32(item.Quantity, "quantity")
		if err != nil {
			return err
		}
		err = q.QueryRow(ctx, `
			INSERT INTO order_items (
				order_id, product_id, product_name, product_sku,
				unit_price_cents, quantity, total_price_cents
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, order.ID, item.ProductID, item.ProductName, item.ProductSKU, item.UnitPriceCents, quantity, item.TotalPriceCents).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, q Querier, orderID uuid.UUID) (*Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadItems(ctx, q, []*Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// GetByIDForUpdate locks the order row for the rest of the transaction.
func (s *OrderStore) GetByIDForUpdate(ctx context.Context, q Querier, orderID uuid.UUID) (*Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadItems(ctx, q, []*Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, q Querier, userID uuid.UUID, limit int) ([]*Order, error) {
	limitInt32, err := intToInt32(limit, "limit")
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limitInt32)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListAbandoned returns ids of unpaid pending orders created before cutoff, oldest first.
func (s *OrderStore) ListAbandoned(ctx context.Context, q Querier, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	limitInt32, err := intToInt32(limit, "limit")
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id
		FROM orders
		WHERE status = 'pending' AND payment_status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limitInt32)
	if err != nil {
		return nil, fmt.Errorf("failed to query abandoned orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to read abandoned orders: %w", err)
	}
	return ids, nil
}

// StatusChange describes a guarded status update. The update only applies if
// the row still matches every guard; otherwise ErrInvalidStatusTransition.
type StatusChange struct {
	From []OrderStatus
	To   OrderStatus

	PaymentStatus        PaymentStatus
	RequirePaymentStatus PaymentStatus
	CreatedBefore        time.Time

	Reason         string
	TrackingNumber string
	Carrier        string
}

func (s *OrderStore) ApplyStatusChange(ctx context.Context, q Querier, orderID uuid.UUID, change StatusChange) error {
	if len(change.From) == 0 {
		return fmt.Errorf("status change requires at least one source status")
	}

	args := []any{orderID, string(change.To)}
	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	sets := []string{"status = $2", "updated_at = NOW()"}
	switch change.To {
	case StatusProcessing:
		sets = append(sets, "paid_at = NOW()")
	case StatusShipped:
		sets = append(sets, "shipped_at = NOW()")
	case StatusDelivered:
		sets = append(sets, "delivered_at = NOW()")
	case StatusCancelled:
		sets = append(sets, "cancelled_at = NOW()", "cancellation_reason = "+arg(pgtype.Text{String: change.Reason, Valid: change.Reason != ""}))
	case StatusRefunded:
		sets = append(sets, "refunded_at = NOW()")
	}
	if change.PaymentStatus != "" {
		sets = append(sets, "payment_status = "+arg(string(change.PaymentStatus)))
	}
	if change.TrackingNumber != "" {
		sets = append(sets, "tracking_number = "+arg(change.TrackingNumber))
	}
	if change.Carrier != "" {
		sets = append(sets, "carrier = "+arg(change.Carrier))
	}

	from := make([]string, len(change.From))
	for i, status := range change.From {
		from[i] = string(status)
	}
	where := []string{"id = $1", "status = ANY(" + arg(from) + ")"}
	if change.RequirePaymentStatus != "" {
		where = append(where, "payment_status = "+arg(string(change.RequirePaymentStatus)))
	}
	if !change.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(change.CreatedBefore))
	}

	query := "UPDATE orders SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	cmdTag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected %s -> %s", ErrInvalidStatusTransition, strings.Join(from, "/"), change.To)
	}
	return nil
}

func (s *OrderStore) loadItems(ctx context.Context, q Querier, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, order := range orders {
		order.Items = []OrderItem{}
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_sku, unit_price_cents, quantity, total_price_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_name, id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     OrderItem
			quantity int32
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.UnitPriceCents, &quantity, &item.TotalPriceCents); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		item.Quantity = int(quantity)
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read order items: %w", err)
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order              Order
		orderNumber        int64
		email              pgtype.Text
		status             string
		paymentStatus      string
		shippingJSON       []byte
		billingJSON        []byte
		notes              pgtype.Text
		trackingNumber     pgtype.Text
		carrier            pgtype.Text
		cancellationReason pgtype.Text
		createdAt          pgtype.Timestamptz
		updatedAt          pgtype.Timestamptz
		paidAt             pgtype.Timestamptz
		shippedAt          pgtype.Timestamptz
		deliveredAt        pgtype.Timestamptz
		cancelledAt        pgtype.Timestamptz
		refundedAt         pgtype.Timestamptz
	)
	err := row.Scan(
		&order.ID, &orderNumber, &order.UserID, &email, &status, &paymentStatus, &order.PaymentMethod,
		&shippingJSON, &billingJSON, &order.SubtotalCents, &order.ShippingCents, &order.TaxCents, &order.TotalCents,
		&notes, &trackingNumber, &carrier, &cancellationReason,
		&createdAt, &updatedAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt, &refundedAt,
	)
	if err != nil {
		return nil, err
	}

	order.OrderNumber = int(orderNumber)
	order.Status = OrderStatus(status)
	order.PaymentStatus = PaymentStatus(paymentStatus)
	order.Email = email.String
	order.Notes = notes.String
	order.TrackingNumber = trackingNumber.String
	order.Carrier = carrier.String
	order.CancellationReason = cancellationReason.String
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time
	order.PaidAt = paidAt.Time
	order.ShippedAt = shippedAt.Time
	order.DeliveredAt = deliveredAt.Time
	order.CancelledAt = cancelledAt.Time
	order.RefundedAt = refundedAt.Time

	if err := json.Unmarshal(shippingJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if len(billingJSON) > 0 {
		var billing Address
		if err := json.Unmarshal(billingJSON, &billing); err != nil {
			return nil, fmt.Errorf("failed to decode billing address: %w", err)
		}
		order.BillingAddress = &billing
	}

	return &order, nil
}
