package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/observability"
)

const (
	DefaultAbandonedOrderTTL = 24 * time.Hour
	DefaultReaperInterval    = time.Hour
	DefaultReaperBatchSize   = 100

	abandonedOrderReason = "Payment not completed within 24 hours"
)

type ReaperConfig struct {
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
}

type SweepResult struct {
	Scanned   int
	Cancelled int
	Failed    int
}

// Reaper cancels orders whose payment never completed and releases their
// stock reservation.
type Reaper struct {
	stores Stores
	config ReaperConfig
	notify NotificationSink
	logger *slog.Logger
	now    func() time.Time
}

func NewReaper(stores Stores, config ReaperConfig, notify NotificationSink, logger *slog.Logger) *Reaper {
	if config.TTL <= 0 {
		config.TTL = DefaultAbandonedOrderTTL
	}
	if config.Interval <= 0 {
		config.Interval = DefaultReaperInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReaperBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		stores: stores,
		config: config,
		notify: notify,
		logger: logger.With("component", "reaper"),
		now:    time.Now,
	}
}

// Start sweeps once immediately and then on every interval until ctx ends.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("abandoned order reaper started", "interval", r.config.Interval, "ttl", r.config.TTL)
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx, r.now()); err != nil && ctx.Err() == nil {
			r.logger.Error("abandoned order sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("abandoned order reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep cancels every pending, unpaid order older than the TTL. Each order
// runs in its own transaction and a failure never stops the batch.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	span := sentry.StartSpan(
		ctx,
		"job.reaper.sweep",
		sentry.WithOpName("job.reaper"),
		sentry.WithDescription("Sweep"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	var result SweepResult
	cutoff := now.Add(-r.config.TTL)
	ids, err := r.stores.Orders.ListAbandoned(ctx, r.stores.DB, cutoff, r.config.BatchSize)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return result, err
	}
	result.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		cancelled, err := r.reap(ctx, id, cutoff)
		switch {
		case err != nil:
			result.Failed++
			r.logger.Error("failed to cancel abandoned order", "order_id", id, "error", err)
		case cancelled != nil:
			result.Cancelled++
			if r.notify != nil {
				r.notify.Enqueue(ctx, Notification{Kind: NotificationStatusChanged, Order: cancelled, PreviousStatus: db.StatusPending, Reason: abandonedOrderReason})
			}
		}
	}

	observability.RecordReaper("cancelled", result.Cancelled)
	observability.RecordReaper("failed", result.Failed)
	span.Status = sentry.SpanStatusOK
	if result.Scanned > 0 {
		r.logger.Info("abandoned order sweep finished",
			"scanned", result.Scanned,
			"cancelled", result.Cancelled,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// reap returns nil without error when the order progressed after selection.
func (r *Reaper) reap(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (*db.Order, error) {
	var cancelled *db.Order
	err := r.stores.Tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		order, err := r.stores.Orders.GetByIDForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		err = r.stores.Orders.ApplyStatusChange(ctx, q, orderID, db.StatusChange{
			From:                 []db.OrderStatus{db.StatusPending},
			To:                   db.StatusCancelled,
			RequirePaymentStatus: db.PaymentPending,
			CreatedBefore:        cutoff,
			Reason:               abandonedOrderReason,
		})
		if err != nil {
			return err
		}
		if _, err := r.stores.Payments.FailPending(ctx, q, orderID); err != nil {
			return err
		}
		if err := restoreStock(ctx, q, r.stores.Stock, order); err != nil {
			return err
		}
		cancelled, err = r.stores.Orders.GetByID(ctx, q, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, nil
		}
		return nil, err
	}
	return cancelled, nil
}
