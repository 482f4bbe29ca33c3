package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

// Transactor runs fn as one atomic unit. Calls nested inside fn join the
// transaction already carried by ctx instead of opening a new one.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	// WithinSavepoint runs fn so that a failure undoes only fn's own writes
	// and leaves the surrounding transaction usable. Without a transaction on
	// ctx it simply runs fn.
	WithinSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// OrderRepository is the durable order store.
type OrderRepository interface {
	Save(ctx context.Context, order *models.Order) (int64, error)
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	// LockByID loads the order and holds its row lock until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id int64) (*models.Order, error)
	FindAll(ctx context.Context) ([]*models.Order, error)
	FindByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	FindByStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	UpdatePaymentReference(ctx context.Context, id int64, ref string) (int64, error)
	FindOrdersWithItems(ctx context.Context, userID int64) ([]models.OrderItemView, error)
}

// PaymentRepository is the payment ledger. FindByOrderID returns nil, nil
// when the order has no payment.
type PaymentRepository interface {
	Create(ctx context.Context, orderID, userID int64, amount decimal.Decimal, currency string, method models.PaymentMethod) (int64, error)
	FindByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (int64, error)
}

// OrderItemRepository looks up the lines of an order.
type OrderItemRepository interface {
	FindByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// ProductRepository adjusts product stock.
type ProductRepository interface {
	IncreaseStock(ctx context.Context, productID int64, quantity int) error
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id int64) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id int64) error
	GetByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	SetByUserID(ctx context.Context, userID int64, orders []*models.Order) error
	InvalidateByUserID(ctx context.Context, userID int64) error
}
