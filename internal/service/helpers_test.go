package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/repository"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type publishedEvent struct {
	Type     string
	OrderID  int64
	Previous models.OrderStatus
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) add(e publishedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.add(publishedEvent{Type: "order.created", OrderID: order.ID})
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	return p.add(publishedEvent{Type: "order.status_changed", OrderID: order.ID, Previous: previous})
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	return p.add(publishedEvent{Type: "order.cancelled", OrderID: order.ID, Previous: previous})
}

func (p *recordingPublisher) PublishOrderExpired(ctx context.Context, order *models.Order) error {
	return p.add(publishedEvent{Type: "order.expired", OrderID: order.ID})
}

func (p *recordingPublisher) PublishOrderDeleted(ctx context.Context, order *models.Order) error {
	return p.add(publishedEvent{Type: "order.deleted", OrderID: order.ID})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubDelivery struct{ days int }

func (d stubDelivery) EstimateDays(ctx context.Context, buyerID, productID int64) (int, error) {
	return d.days, nil
}

type testEnv struct {
	store     *repository.MemoryStore
	service   *OrderService
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

// envOption adjusts the stores or config before the service is built.
type envOption func(stores *Stores, cfg *config.Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	stores := Stores{
		Tx:       store,
		Orders:   store.Orders(),
		Payments: store.Payments(),
		Items:    store.Items(),
		Products: store.Products(),
	}
	cfg := &config.Config{
		Sweeper:  config.SweeperConfig{Window: 10 * time.Minute},
		Features: config.FeatureFlags{EnableOrderEvents: true},
	}
	for _, opt := range opts {
		opt(&stores, cfg)
	}

	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewOrderService(stores, nil, pub, stubDelivery{days: 4}, fixedClock{now: testNow}, m, cfg, logging.NewNop())

	return &testEnv{store: store, service: svc, publisher: pub, metrics: m}
}

func (e *testEnv) createOrder(t *testing.T, method string, placedAt time.Time) *models.Order {
	t.Helper()
	order, err := e.service.CreateOrder(context.Background(), &models.CreateOrderRequest{
		UserID:          7,
		TotalAmount:     decimal.RequireFromString("499.00"),
		ShippingAddress: "12 MG Road, Bengaluru",
		PlacedAt:        &placedAt,
		PaymentMethod:   method,
	})
	require.NoError(t, err)
	return order
}

func (e *testEnv) state(t *testing.T, orderID int64) (models.OrderStatus, models.PaymentStatus) {
	t.Helper()
	ctx := context.Background()

	order, err := e.store.Orders().FindByID(ctx, orderID)
	require.NoError(t, err)
	payment, err := e.store.Payments().FindByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return order.Status, payment.Status
}

// failingPayments reports zero affected rows for every status write.
type failingPayments struct {
	repository.PaymentRepository
}

func (failingPayments) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (int64, error) {
	return 0, nil
}

// failingLookupPayments fails every payment lookup by order.
type failingLookupPayments struct {
	repository.PaymentRepository
}

func (failingLookupPayments) FindByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	return nil, errPaymentLookup
}

// failingProducts fails the stock restore of one product.
type failingProducts struct {
	repository.ProductRepository
	failOn int64
}

func (p failingProducts) IncreaseStock(ctx context.Context, productID int64, quantity int) error {
	if productID == p.failOn {
		return errStockUnavailable
	}
	return p.ProductRepository.IncreaseStock(ctx, productID, quantity)
}

// racingOrders runs hook after the sweep's candidate query, simulating a
// concurrent writer that acts between the query and the row lock.
type racingOrders struct {
	repository.OrderRepository
	hook func()
}

func (r *racingOrders) FindByStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error) {
	orders, err := r.OrderRepository.FindByStatusBefore(ctx, status, cutoff)
	if r.hook != nil {
		r.hook()
	}
	return orders, err
}
