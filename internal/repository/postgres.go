package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

const orderColumns = `order_id, user_id, total_amount, shipping_address, order_status,
		       placed_at, payment_method, razorpay_order_id`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, logger *logging.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts a new order and returns its generated id.
func (r *PostgresOrderRepository) Save(ctx context.Context, order *models.Order) (int64, error) {
	r.logger.Debug("Saving order", logging.Fields{"user_id": order.UserID})

	query := `
		INSERT INTO orders (user_id, total_amount, shipping_address, order_status, placed_at, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING order_id
	`

	var id int64
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		order.UserID,
		order.TotalAmount,
		order.ShippingAddress,
		string(order.Status),
		order.PlacedAt,
		string(order.PaymentMethod),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, errors.Persistence("save order", 0)
	}
	if err != nil {
		r.logger.Error("Failed to save order", logging.Fields{
			"user_id": order.UserID,
			"error":   err.Error(),
		})
		return 0, err
	}

	order.ID = id
	return id, nil
}

// FindByID retrieves an order by its identifier.
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	return r.findOne(ctx, query, id)
}

// LockByID retrieves an order and takes its row lock for the rest of the
// current transaction.
func (r *PostgresOrderRepository) LockByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1 FOR UPDATE`
	return r.findOne(ctx, query, id)
}

func (r *PostgresOrderRepository) findOne(ctx context.Context, query string, id int64) (*models.Order, error) {
	order, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("order", id)
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}
	return order, nil
}

// FindAll returns every order.
func (r *PostgresOrderRepository) FindAll(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY order_id`
	return r.findMany(ctx, query)
}

// FindByUserID returns a user's orders, most recent first.
func (r *PostgresOrderRepository) FindByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY placed_at DESC`
	return r.findMany(ctx, query, userID)
}

// FindByStatusBefore returns orders in status placed strictly before cutoff.
func (r *PostgresOrderRepository) FindByStatusBefore(ctx context.Context, status models.OrderStatus, cutoff time.Time) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_status = $1 AND placed_at < $2 ORDER BY order_id`
	return r.findMany(ctx, query, string(status), cutoff)
}

func (r *PostgresOrderRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateStatus writes a new order status and reports the rows affected.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (int64, error) {
	r.logger.Debug("Updating order status", logging.Fields{
		"order_id":   id,
		"new_status": status,
	})

	query := `UPDATE orders SET order_status = $2 WHERE order_id = $1`
	return r.exec(ctx, query, id, string(status))
}

// DeleteByID removes an order. Payments and items cascade in the schema.
func (r *PostgresOrderRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	query := `DELETE FROM orders WHERE order_id = $1`
	return r.exec(ctx, query, id)
}

// UpdatePaymentReference stores the gateway order reference.
func (r *PostgresOrderRepository) UpdatePaymentReference(ctx context.Context, id int64, ref string) (int64, error) {
	query := `UPDATE orders SET razorpay_order_id = $2 WHERE order_id = $1`
	return r.exec(ctx, query, id, ref)
}

func (r *PostgresOrderRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Order write failed", logging.Fields{"error": err.Error()})
		return 0, err
	}
	return result.RowsAffected()
}

// FindOrdersWithItems joins a user's orders with their items.
func (r *PostgresOrderRepository) FindOrdersWithItems(ctx context.Context, userID int64) ([]models.OrderItemView, error) {
	query := `
		SELECT o.order_id, o.total_amount, o.shipping_address,
		       oi.product_name, oi.quantity, oi.unit_price
		FROM orders o
		INNER JOIN order_items oi ON o.order_id = oi.order_id
		WHERE o.user_id = $1
		ORDER BY o.order_id, oi.product_id
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]models.OrderItemView, 0)
	for rows.Next() {
		var v models.OrderItemView
		if err := rows.Scan(&v.OrderID, &v.TotalAmount, &v.ShippingAddress, &v.ProductName, &v.Quantity, &v.UnitPrice); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var status, method string
	var razorpayID sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.ShippingAddress,
		&status,
		&order.PlacedAt,
		&method,
		&razorpayID,
	)
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderStatus(status)
	order.PaymentMethod = models.PaymentMethod(method)
	if razorpayID.Valid {
		order.RazorpayOrderID = razorpayID.String
	}
	return &order, nil
}
