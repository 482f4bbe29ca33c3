package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

// MemoryStore keeps orders, payments, items and stock in process. It honours
// the same contract as the Postgres store: WithinTx is atomic and LockByID
// holds a per-order lock until the transaction ends.
type MemoryStore struct {
	mu             sync.Mutex
	orders         map[int64]*models.Order
	payments       map[int64]*models.Payment
	paymentByOrder map[int64]int64
	items          map[int64][]models.OrderItem
	stock          map[int64]int
	rowLocks       map[int64]*rowLock
	nextOrderID    int64
	nextPaymentID  int64
}

type memTxKey struct{}

type memTx struct {
	undo []func()
	held map[int64]*rowLock
}

// rowLock is a per-order lock. refs counts holders and waiters; the entry is
// dropped from the store once it reaches zero.
type rowLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:         make(map[int64]*models.Order),
		payments:       make(map[int64]*models.Payment),
		paymentByOrder: make(map[int64]int64),
		items:          make(map[int64][]models.OrderItem),
		stock:          make(map[int64]int),
		rowLocks:       make(map[int64]*rowLock),
	}
}

func (s *MemoryStore) Orders() *MemoryOrderRepository { return &MemoryOrderRepository{s: s} }
func (s *MemoryStore) Payments() *MemoryPaymentRepository { return &MemoryPaymentRepository{s: s} }
func (s *MemoryStore) Items() *MemoryOrderItemRepository { return &MemoryOrderItemRepository{s: s} }
func (s *MemoryStore) Products() *MemoryProductRepository { return &MemoryProductRepository{s: s} }

// WithinTx runs fn atomically. Writes are undone and row locks released if fn
// fails or panics.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{held: make(map[int64]*rowLock)}
	committed := false
	defer func() {
		if !committed {
			s.rollback(tx)
		}
		s.releaseRows(tx)
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

// WithinSavepoint undoes fn's writes when fn fails, keeping the rest of the
// transaction. Row locks taken inside fn stay held, as in Postgres.
func (s *MemoryStore) WithinSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return fn(ctx)
	}

	s.mu.Lock()
	mark := len(tx.undo)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.undoTo(tx, mark)
		return err
	}
	return nil
}

func (s *MemoryStore) rollback(tx *memTx) {
	s.undoTo(tx, 0)
}

func (s *MemoryStore) undoTo(tx *memTx, mark int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= mark; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:mark]
}

// record registers an undo step. Callers hold s.mu.
func (s *MemoryStore) record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *MemoryStore) lockRow(ctx context.Context, id int64) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return
	}
	if _, held := tx.held[id]; held {
		return
	}

	s.mu.Lock()
	l, exists := s.rowLocks[id]
	if !exists {
		l = &rowLock{}
		s.rowLocks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	tx.held[id] = l
}

func (s *MemoryStore) releaseRows(tx *memTx) {
	s.mu.Lock()
	for id, l := range tx.held {
		l.refs--
		if l.refs == 0 {
			delete(s.rowLocks, id)
		}
	}
	s.mu.Unlock()

	for _, l := range tx.held {
		l.mu.Unlock()
	}
	tx.held = nil
}

// lockedRows reports how many row lock entries the store is tracking.
func (s *MemoryStore) lockedRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rowLocks)
}

// AddItem seeds an order line.
func (s *MemoryStore) AddItem(item models.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.OrderID] = append(s.items[item.OrderID], item)
}

// SetStock seeds the stock level of a product.
func (s *MemoryStore) SetStock(productID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = quantity
}

// Stock returns the current stock level of a product.
func (s *MemoryStore) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[productID]
}

// OrderCount returns the number of stored orders.
func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// PaymentCount returns the number of stored payments.
func (s *MemoryStore) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// MemoryOrderRepository is the OrderRepository view of a MemoryStore.
type MemoryOrderRepository struct{ s *MemoryStore }

func (r *MemoryOrderRepository) Save(ctx context.Context, order *models.Order) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	id := s.nextOrderID
	cp := *order
	cp.ID = id
	s.orders[id] = &cp
	s.record(ctx, func() { delete(s.orders, id) })

	order.ID = id
	return id, nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, errors.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) LockByID(ctx context.Context, id int64) (*models.Order, error) {
	r.s.lockRow(ctx, id)
	return r.FindByID(ctx, id)
}

func (r *MemoryOrderRepository) FindAll(ctx context.Context) ([]*models.Order, error) {
	return r.filter(func(*models.Order) bool { return true }, byID), nil
}

func (r *MemoryOrderRepository) FindByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.UserID == userID }, byPlacedAtDesc), nil
}

func (r *MemoryOrderRepository) FindByStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error) {
	return r.filter(func(o *models.Order) bool {
		return o.Status == status && o.PlacedAt.Before(cutoff)
	}, byID), nil
}

func byID(a, b *models.Order) bool { return a.ID < b.ID }

func byPlacedAtDesc(a, b *models.Order) bool {
	if a.PlacedAt.Equal(b.PlacedAt) {
		return a.ID > b.ID
	}
	return a.PlacedAt.After(b.PlacedAt)
}

func (r *MemoryOrderRepository) filter(keep func(*models.Order) bool, less func(a, b *models.Order) bool) []*models.Order {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, nil
	}
	prev := o.Status
	o.Status = status
	s.record(ctx, func() { o.Status = prev })
	return 1, nil
}

func (r *MemoryOrderRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, nil
	}
	delete(s.orders, id)

	items, hadItems := s.items[id]
	delete(s.items, id)

	paymentID, hadPayment := s.paymentByOrder[id]
	payment := s.payments[paymentID]
	if hadPayment {
		delete(s.payments, paymentID)
		delete(s.paymentByOrder, id)
	}

	s.record(ctx, func() {
		s.orders[id] = o
		if hadItems {
			s.items[id] = items
		}
		if hadPayment {
			s.payments[paymentID] = payment
			s.paymentByOrder[id] = paymentID
		}
	})
	return 1, nil
}

func (r *MemoryOrderRepository) UpdatePaymentReference(ctx context.Context, id int64, ref string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, nil
	}
	prev := o.RazorpayOrderID
	o.RazorpayOrderID = ref
	s.record(ctx, func() { o.RazorpayOrderID = prev })
	return 1, nil
}

func (r *MemoryOrderRepository) FindOrdersWithItems(ctx context.Context, userID int64) ([]models.OrderItemView, error) {
	orders := r.filter(func(o *models.Order) bool { return o.UserID == userID }, byID)

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]models.OrderItemView, 0)
	for _, o := range orders {
		items := append([]models.OrderItem(nil), s.items[o.ID]...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, item := range items {
			views = append(views, models.OrderItemView{
				OrderID:         o.ID,
				TotalAmount:     o.TotalAmount,
				ShippingAddress: o.ShippingAddress,
				ProductName:     item.ProductName,
				Quantity:        item.Quantity,
				UnitPrice:       item.UnitPrice,
			})
		}
	}
	return views, nil
}

// MemoryPaymentRepository is the PaymentRepository view of a MemoryStore.
type MemoryPaymentRepository struct{ s *MemoryStore }

func (r *MemoryPaymentRepository) Create(ctx context.Context, orderID, userID int64, amount decimal.Decimal, currency string, method models.PaymentMethod) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.paymentByOrder[orderID]; exists {
		return 0, fmt.Errorf("%w: payment already exists for order %d", errors.ErrPersistence, orderID)
	}

	s.nextPaymentID++
	id := s.nextPaymentID
	s.payments[id] = &models.Payment{
		ID:       id,
		OrderID:  orderID,
		UserID:   userID,
		Amount:   amount,
		Currency: currency,
		Method:   method,
		Status:   models.PaymentStatusPending,
	}
	s.paymentByOrder[orderID] = id
	s.record(ctx, func() {
		delete(s.payments, id)
		delete(s.paymentByOrder, orderID)
	})
	return id, nil
}

func (r *MemoryPaymentRepository) FindByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.paymentByOrder[orderID]
	if !ok {
		return nil, nil
	}
	cp := *s.payments[id]
	return &cp, nil
}

func (r *MemoryPaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return 0, nil
	}
	prev := p.Status
	p.Status = status
	s.record(ctx, func() { p.Status = prev })
	return 1, nil
}

// MemoryOrderItemRepository is the OrderItemRepository view of a MemoryStore.
type MemoryOrderItemRepository struct{ s *MemoryStore }

func (r *MemoryOrderItemRepository) FindByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	items := append([]models.OrderItem{}, s.items[orderID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

// MemoryProductRepository is the ProductRepository view of a MemoryStore.
type MemoryProductRepository struct{ s *MemoryStore }

// IncreaseStock skips products the store does not know.
func (r *MemoryProductRepository) IncreaseStock(ctx context.Context, productID int64, quantity int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stock[productID]; !ok {
		return nil
	}
	s.stock[productID] += quantity
	s.record(ctx, func() { s.stock[productID] -= quantity })
	return nil
}
