package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/payment"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore implements every store port in memory. Transactions are
// serialized and roll back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	now         func() time.Time
	products    map[uuid.UUID]*db.Product
	orders      map[uuid.UUID]*db.Order
	payments    []*db.Payment
	cartCleared map[uuid.UUID]int
	nextNumber  int
}

type memSnapshot struct {
	products    map[uuid.UUID]*db.Product
	orders      map[uuid.UUID]*db.Order
	payments    []*db.Payment
	cartCleared map[uuid.UUID]int
	nextNumber  int
}

func newMemStore() *memStore {
	return &memStore{
		now:         time.Now,
		products:    make(map[uuid.UUID]*db.Product),
		orders:      make(map[uuid.UUID]*db.Order),
		cartCleared: make(map[uuid.UUID]int),
		nextNumber:  1000,
	}
}

func (m *memStore) stores() Stores {
	return Stores{
		Tx:       memTx{m},
		Products: memProducts{m},
		Stock:    memStock{m},
		Orders:   memOrders{m},
		Payments: memPayments{m},
		Carts:    memCarts{m},
	}
}

func (m *memStore) addProduct(name string, priceCents int64, stock int, active bool) *db.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	product := &db.Product{
		ID:            uuid.New(),
		SKU:           name,
		Name:          name,
		PriceCents:    priceCents,
		StockQuantity: stock,
		IsActive:      active,
	}
	m.products[product.ID] = product
	return copyProduct(product)
}

func (m *memStore) stock(productID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].StockQuantity
}

func (m *memStore) order(orderID uuid.UUID) *db.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyOrder(m.orders[orderID])
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) age(orderID uuid.UUID, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID].CreatedAt = m.now().Add(-age)
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		products:    make(map[uuid.UUID]*db.Product, len(m.products)),
		orders:      make(map[uuid.UUID]*db.Order, len(m.orders)),
		payments:    make([]*db.Payment, len(m.payments)),
		cartCleared: make(map[uuid.UUID]int, len(m.cartCleared)),
		nextNumber:  m.nextNumber,
	}
	for id, p := range m.products {
		snap.products[id] = copyProduct(p)
	}
	for id, o := range m.orders {
		snap.orders[id] = copyOrder(o)
	}
	for i, p := range m.payments {
		copied := *p
		snap.payments[i] = &copied
	}
	for id, n := range m.cartCleared {
		snap.cartCleared[id] = n
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = snap.products
	m.orders = snap.orders
	m.payments = snap.payments
	m.cartCleared = snap.cartCleared
	m.nextNumber = snap.nextNumber
}

func copyProduct(p *db.Product) *db.Product {
	if p == nil {
		return nil
	}
	copied := *p
	return &copied
}

func copyOrder(o *db.Order) *db.Order {
	if o == nil {
		return nil
	}
	copied := *o
	copied.Items = append([]db.OrderItem(nil), o.Items...)
	return &copied
}

type memTx struct{ m *memStore }

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	t.m.txMu.Lock()
	defer t.m.txMu.Unlock()
	snap := t.m.snapshot()
	if err := fn(ctx, nil); err != nil {
		t.m.restore(snap)
		return err
	}
	return nil
}

type memProducts struct{ m *memStore }

func (p memProducts) GetByIDs(_ context.Context, _ db.Querier, ids []uuid.UUID) (map[uuid.UUID]*db.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	found := make(map[uuid.UUID]*db.Product, len(ids))
	for _, id := range ids {
		if product, ok := p.m.products[id]; ok {
			found[id] = copyProduct(product)
		}
	}
	return found, nil
}

type memStock struct{ m *memStore }

func (s memStock) Decrement(_ context.Context, _ db.Querier, productID uuid.UUID, qty int) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	product, ok := s.m.products[productID]
	if !ok {
		return 0, db.ErrNotFound
	}
	if product.StockQuantity < qty {
		return 0, fmt.Errorf("%w: product %s", db.ErrInsufficientStock, productID)
	}
	product.StockQuantity -= qty
	return product.StockQuantity, nil
}

func (s memStock) Increment(_ context.Context, _ db.Querier, productID uuid.UUID, qty int) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	product, ok := s.m.products[productID]
	if !ok {
		return db.ErrNotFound
	}
	product.StockQuantity += qty
	return nil
}

type memOrders struct{ m *memStore }

func (o memOrders) Create(_ context.Context, _ db.Querier, order *db.Order) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	o.m.nextNumber++
	order.ID = uuid.New()
	order.OrderNumber = o.m.nextNumber
	order.CreatedAt = o.m.now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	o.m.orders[order.ID] = copyOrder(order)
	return nil
}

func (o memOrders) GetByID(_ context.Context, _ db.Querier, orderID uuid.UUID) (*db.Order, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	order, ok := o.m.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyOrder(order), nil
}

func (o memOrders) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*db.Order, error) {
	return o.GetByID(ctx, q, orderID)
}

func (o memOrders) ListByUser(_ context.Context, _ db.Querier, userID uuid.UUID, limit int) ([]*db.Order, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	var orders []*db.Order
	for _, order := range o.m.orders {
		if order.UserID == userID && len(orders) < limit {
			orders = append(orders, copyOrder(order))
		}
	}
	return orders, nil
}

func (o memOrders) ListAbandoned(_ context.Context, _ db.Querier, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	var ids []uuid.UUID
	for id, order := range o.m.orders {
		if order.Status == db.StatusPending && order.PaymentStatus == db.PaymentPending && order.CreatedAt.Before(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (o memOrders) ApplyStatusChange(_ context.Context, _ db.Querier, orderID uuid.UUID, change db.StatusChange) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	order, ok := o.m.orders[orderID]
	if !ok {
		return db.ErrInvalidStatusTransition
	}
	matches := false
	for _, from := range change.From {
		if order.Status == from {
			matches = true
		}
	}
	if !matches ||
		(change.RequirePaymentStatus != "" && order.PaymentStatus != change.RequirePaymentStatus) ||
		(!change.CreatedBefore.IsZero() && !order.CreatedAt.Before(change.CreatedBefore)) {
		return db.ErrInvalidStatusTransition
	}

	now := o.m.now()
	order.Status = change.To
	order.UpdatedAt = now
	switch change.To {
	case db.StatusProcessing:
		order.PaidAt = now
	case db.StatusShipped:
		order.ShippedAt = now
	case db.StatusDelivered:
		order.DeliveredAt = now
	case db.StatusCancelled:
		order.CancelledAt = now
		order.CancellationReason = change.Reason
	case db.StatusRefunded:
		order.RefundedAt = now
	}
	if change.PaymentStatus != "" {
		order.PaymentStatus = change.PaymentStatus
	}
	if change.TrackingNumber != "" {
		order.TrackingNumber = change.TrackingNumber
	}
	if change.Carrier != "" {
		order.Carrier = change.Carrier
	}
	return nil
}

type memPayments struct{ m *memStore }

func (p memPayments) Create(_ context.Context, _ db.Querier, payment *db.Payment) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, existing := range p.m.payments {
		if existing.OrderID == payment.OrderID && existing.Status != db.PaymentFailed {
			return db.ErrDuplicate
		}
	}
	payment.ID = uuid.New()
	payment.CreatedAt = p.m.now()
	payment.UpdatedAt = payment.CreatedAt
	copied := *payment
	p.m.payments = append(p.m.payments, &copied)
	return nil
}

func (p memPayments) find(match func(*db.Payment) bool) (*db.Payment, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for i := len(p.m.payments) - 1; i >= 0; i-- {
		if match(p.m.payments[i]) {
			copied := *p.m.payments[i]
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (p memPayments) GetPendingByOrder(_ context.Context, _ db.Querier, orderID uuid.UUID) (*db.Payment, error) {
	return p.find(func(pay *db.Payment) bool { return pay.OrderID == orderID && pay.Status == db.PaymentPending })
}

func (p memPayments) GetLatestByOrder(_ context.Context, _ db.Querier, orderID uuid.UUID) (*db.Payment, error) {
	return p.find(func(pay *db.Payment) bool { return pay.OrderID == orderID })
}

func (p memPayments) GetByProviderID(_ context.Context, _ db.Querier, providerPaymentID string) (*db.Payment, error) {
	return p.find(func(pay *db.Payment) bool { return pay.ProviderPaymentID == providerPaymentID })
}

func (p memPayments) GetByProviderIDForUpdate(ctx context.Context, q db.Querier, providerPaymentID string) (*db.Payment, error) {
	return p.GetByProviderID(ctx, q, providerPaymentID)
}

func (p memPayments) update(match func(*db.Payment) bool, apply func(*db.Payment)) int64 {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var changed int64
	for _, pay := range p.m.payments {
		if match(pay) {
			apply(pay)
			changed++
		}
	}
	return changed
}

func (p memPayments) MarkSucceeded(_ context.Context, _ db.Querier, paymentID uuid.UUID) error {
	changed := p.update(
		func(pay *db.Payment) bool { return pay.ID == paymentID && pay.Status == db.PaymentPending },
		func(pay *db.Payment) { pay.Status = db.PaymentSucceeded },
	)
	if changed == 0 {
		return db.ErrInvalidStatusTransition
	}
	return nil
}

func (p memPayments) FailPending(_ context.Context, _ db.Querier, orderID uuid.UUID) (int64, error) {
	return p.update(
		func(pay *db.Payment) bool { return pay.OrderID == orderID && pay.Status == db.PaymentPending },
		func(pay *db.Payment) { pay.Status = db.PaymentFailed },
	), nil
}

func (p memPayments) SetRefundReference(_ context.Context, _ db.Querier, paymentID uuid.UUID, reference string) error {
	p.update(
		func(pay *db.Payment) bool { return pay.ID == paymentID },
		func(pay *db.Payment) { pay.RefundReference = reference },
	)
	return nil
}

type memCarts struct{ m *memStore }

func (c memCarts) ClearForUser(_ context.Context, _ db.Querier, userID uuid.UUID) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.cartCleared[userID]++
	return nil
}

// fakeGateway is a scriptable payment adapter.
type fakeGateway struct {
	mu sync.Mutex

	kind      payment.Kind
	createErr error
	paid      map[string]bool
	orderIDs  map[string]uuid.UUID
	secret    string
	created   int
	refundErr error
	refunds   []payment.RefundRequest
}

func newFakeGateway(kind payment.Kind) *fakeGateway {
	return &fakeGateway{
		kind:     kind,
		paid:     make(map[string]bool),
		orderIDs: make(map[string]uuid.UUID),
		secret:   "whsec_fake",
	}
}

func (g *fakeGateway) Kind() payment.Kind { return g.kind }

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	id := fmt.Sprintf("%s_%d", g.kind, g.created)
	g.orderIDs[id] = req.OrderID
	return &payment.Intent{
		ProviderID:   id,
		Status:       payment.StatusPending,
		RedirectURL:  "https://pay.example.com/" + id,
		ClientSecret: id + "_secret",
	}, nil
}

func (g *fakeGateway) setPaid(providerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[providerID] = true
}

func (g *fakeGateway) Confirm(_ context.Context, providerID string) (*payment.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orderIDs[providerID]; !ok {
		return nil, &payment.GatewayError{Provider: g.kind, Op: "confirm", StatusCode: 404, Err: errors.New("no such payment")}
	}
	paid := g.paid[providerID]
	status := "open"
	if paid {
		status = "paid"
	}
	return &payment.Confirmation{ProviderID: providerID, Status: status, Paid: paid, OrderID: g.orderIDs[providerID]}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &payment.RefundRecord{ID: "re_" + req.ProviderID, Status: "succeeded"}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, signature string) bool {
	return signature == g.secret
}

// ParseWebhook reads payloads of the form "<status>:<provider id>".
func (g *fakeGateway) ParseWebhook(payload []byte) (*payment.WebhookEvent, error) {
	var status, id string
	for i, c := range string(payload) {
		if c == ':' {
			status, id = string(payload[:i]), string(payload[i+1:])
			break
		}
	}
	if id == "" {
		return nil, errors.New("malformed payload")
	}
	return &payment.WebhookEvent{
		ProviderID: id,
		Status:     status,
		Paid:       status == "paid",
		Failed:     status == "failed",
	}, nil
}

type recordingSink struct {
	mu            sync.Mutex
	notifications []Notification
}

func (s *recordingSink) Enqueue(_ context.Context, notification Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification)
}

func (s *recordingSink) count(kind NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, notification := range s.notifications {
		if notification.Kind == kind {
			n++
		}
	}
	return n
}

func testPricing() Pricing {
	return Pricing{ShippingFeeCents: 1000, FreeShippingThresholdCents: 10000, TaxRate: 0.10}
}

func testAddress() db.Address {
	return db.Address{
		FirstName:  "Rania",
		LastName:   "Haddad",
		Address:    "12 Hamra Street",
		City:       "Beirut",
		PostalCode: "1103",
		Country:    "LB",
	}
}
