package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
)

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []Notification
	err       error
	panicOn   NotificationKind
	done      chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	defer func() { n.done <- struct{}{} }()
	if notification.Kind == n.panicOn {
		panic("template exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, notification)
	return n.err
}

func waitFor(t *testing.T, done <-chan struct{}, count int) {
	t.Helper()
	for range count {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification delivery")
		}
	}
}

func TestDispatcher_DeliversAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{
		err:     errors.New("smtp down"),
		panicOn: NotificationStatusChanged,
		done:    make(chan struct{}, 4),
	}
	dispatcher := NewDispatcher(notifier, discardLogger(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- dispatcher.Run(ctx) }()

	order := &db.Order{ID: uuid.New(), OrderNumber: 1001}
	dispatcher.Enqueue(context.Background(), Notification{Kind: NotificationStatusChanged, Order: order})
	dispatcher.Enqueue(context.Background(), Notification{Kind: NotificationOrderConfirmed, Order: order})
	waitFor(t, notifier.done, 2)

	cancel()
	if err := <-stopped; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.delivered) != 1 || notifier.delivered[0].Kind != NotificationOrderConfirmed {
		t.Fatalf("delivered = %+v", notifier.delivered)
	}
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, discardLogger(), 1)
	order := &db.Order{ID: uuid.New()}

	finished := make(chan struct{})
	go func() {
		for range 5 {
			dispatcher.Enqueue(context.Background(), Notification{Kind: NotificationOrderConfirmed, Order: order})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	if got := len(dispatcher.queue); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{done: make(chan struct{}, 3)}
	dispatcher := NewDispatcher(notifier, discardLogger(), 3)
	order := &db.Order{ID: uuid.New()}
	for range 3 {
		dispatcher.Enqueue(context.Background(), Notification{Kind: NotificationOrderConfirmed, Order: order})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dispatcher.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(notifier.delivered); got != 3 {
		t.Fatalf("delivered = %d, want 3", got)
	}
}
