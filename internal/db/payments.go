package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type PaymentStore struct{}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{}
}

const paymentColumns = `id, order_id, provider, provider_payment_id, amount_cents, currency, status,
	test_mode, checkout_url, client_secret, refund_reference, created_at, updated_at`

// Create inserts a pending payment. A second live payment for the same order
// violates payments_one_live_per_order_idx and returns ErrDuplicate.
func (s *PaymentStore) Create(ctx context.Context, q Querier, payment *Payment) error {
	var createdAt, updatedAt pgtype.Timestamptz
	err := q.QueryRow(ctx, `
		INSERT INTO payments (
			order_id, provider, provider_payment_id, amount_cents, currency, status,
			test_mode, checkout_url, client_secret
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		payment.OrderID,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.AmountCents,
		payment.Currency,
		string(payment.Status),
		payment.TestMode,
		pgtype.Text{String: payment.CheckoutURL, Valid: payment.CheckoutURL != ""},
		pgtype.Text{String: payment.ClientSecret, Valid: payment.ClientSecret != ""},
	).Scan(&payment.ID, &createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: live payment already exists for order %s", ErrDuplicate, payment.OrderID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	payment.CreatedAt = createdAt.Time
	payment.UpdatedAt = updatedAt.Time
	return nil
}

func (s *PaymentStore) GetPendingByOrder(ctx context.Context, q Querier, orderID uuid.UUID) (*Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

func (s *PaymentStore) GetLatestByOrder(ctx context.Context, q Querier, orderID uuid.UUID) (*Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

func (s *PaymentStore) GetByProviderID(ctx context.Context, q Querier, providerPaymentID string) (*Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_payment_id = $1`, providerPaymentID))
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

// GetByProviderIDForUpdate locks the payment row so concurrent confirmations
// of the same payment serialize on it.
func (s *PaymentStore) GetByProviderIDForUpdate(ctx context.Context, q Querier, providerPaymentID string) (*Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_payment_id = $1 FOR UPDATE`, providerPaymentID))
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

// MarkSucceeded settles a pending payment. Payments never leave a terminal state.
func (s *PaymentStore) MarkSucceeded(ctx context.Context, q Querier, paymentID uuid.UUID) error {
	cmdTag, err := q.Exec(ctx, `
		UPDATE payments
		SET status = 'succeeded', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, paymentID)
	if err != nil {
		return fmt.Errorf("failed to mark payment succeeded: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s is not pending", ErrInvalidStatusTransition, paymentID)
	}
	return nil
}

// FailPending marks any pending payment of the order failed and reports how many changed.
func (s *PaymentStore) FailPending(ctx context.Context, q Querier, orderID uuid.UUID) (int64, error) {
	cmdTag, err := q.Exec(ctx, `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'
	`, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark payments failed: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (s *PaymentStore) SetRefundReference(ctx context.Context, q Querier, paymentID uuid.UUID, reference string) error {
	_, err := q.Exec(ctx, `
		UPDATE payments
		SET refund_reference = $2, updated_at = NOW()
		WHERE id = $1
	`, paymentID, reference)
	if err != nil {
		return fmt.Errorf("failed to store refund reference: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		payment         Payment
		status          string
		checkoutURL     pgtype.Text
		clientSecret    pgtype.Text
		refundReference pgtype.Text
		createdAt       pgtype.Timestamptz
		updatedAt       pgtype.Timestamptz
	)
	err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.Provider, &payment.ProviderPaymentID, &payment.AmountCents,
		&payment.Currency, &status, &payment.TestMode, &checkoutURL, &clientSecret, &refundReference,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.Status = PaymentStatus(status)
	payment.CheckoutURL = checkoutURL.String
	payment.ClientSecret = clientSecret.String
	payment.RefundReference = refundReference.String
	payment.CreatedAt = createdAt.Time
	payment.UpdatedAt = updatedAt.Time
	return &payment, nil
}
