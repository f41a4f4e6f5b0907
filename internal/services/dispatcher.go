package services

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/observability"
)

type NotificationKind string

const (
	NotificationOrderConfirmed NotificationKind = "order.confirmed"
	NotificationStatusChanged  NotificationKind = "order.status_changed"
)

type Notification struct {
	Kind           NotificationKind
	Order          *db.Order
	PreviousStatus db.OrderStatus
	Reason         string
}

type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NotificationSink accepts notifications after the owning transaction commits.
type NotificationSink interface {
	Enqueue(ctx context.Context, notification Notification)
}

const (
	defaultDispatchBuffer  = 256
	notifyTimeout          = 30 * time.Second
	dispatcherDrainTimeout = 10 * time.Second
)

// Dispatcher delivers notifications on a background goroutine so a slow or
// failing sink never blocks or rolls back checkout.
type Dispatcher struct {
	queue    chan Notification
	notifier Notifier
	logger   *slog.Logger
}

func NewDispatcher(notifier Notifier, logger *slog.Logger, buffer int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	return &Dispatcher{
		queue:    make(chan Notification, buffer),
		notifier: notifier,
		logger:   logger.With("component", "notifications"),
	}
}

// Enqueue never blocks. When the queue is full the notification is dropped
// and logged.
func (d *Dispatcher) Enqueue(ctx context.Context, notification Notification) {
	if d == nil || notification.Order == nil {
		return
	}
	logger := logging.FromContext(ctx, d.logger).With("kind", notification.Kind, "order_id", notification.Order.ID)
	select {
	case d.queue <- notification:
		logger.Debug("notification enqueued")
	default:
		logger.Warn("notification queue full, dropping notification")
		observability.RecordNotification(string(notification.Kind), "dropped")
	}
}

// Run delivers queued notifications until ctx is cancelled, then drains what
// is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info("notification dispatcher stopped")
			return nil
		case notification := <-d.queue:
			d.deliver(ctx, notification)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, dispatcherDrainTimeout)
	defer cancel()
	for {
		select {
		case notification := <-d.queue:
			d.deliver(ctx, notification)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, notification Notification) {
	logger := d.logger.With("kind", notification.Kind, "order_id", notification.Order.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification handler panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if d.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)
	if err := d.notifier.Notify(ctx, notification); err != nil {
		logger.Warn("failed to deliver notification", "error", err)
		observability.RecordNotification(string(notification.Kind), "failed")
		return
	}
	observability.RecordNotification(string(notification.Kind), "delivered")
	logger.Debug("notification delivered")
}
