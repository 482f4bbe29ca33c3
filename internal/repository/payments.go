package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

const pqUniqueViolation = "23505"

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL.
type PostgresPaymentRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment ledger.
func NewPostgresPaymentRepository(db *sql.DB, logger *logging.Logger) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db, logger: logger}
}

// Create inserts the payment for an order. An order holds at most one payment.
func (r *PostgresPaymentRepository) Create(ctx context.Context, orderID, userID int64, amount decimal.Decimal, currency string, method models.PaymentMethod) (int64, error) {
	query := `
		INSERT INTO payments (order_id, user_id, amount, currency, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING payment_id
	`

	var id int64
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		orderID, userID, amount, currency, string(method), string(models.PaymentStatusPending),
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return 0, fmt.Errorf("%w: payment already exists for order %d", errors.ErrPersistence, orderID)
		}
		r.logger.Error("Failed to create payment", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return 0, err
	}

	r.logger.Info("Payment created", logging.Fields{
		"order_id":   orderID,
		"payment_id": id,
		"method":     method,
	})
	return id, nil
}

// FindByOrderID returns the order's payment, or nil when it has none.
func (r *PostgresPaymentRepository) FindByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	query := `
		SELECT payment_id, order_id, user_id, amount, currency, payment_method, status
		FROM payments
		WHERE order_id = $1
	`

	var p models.Payment
	var method, status string
	err := conn(ctx, r.db).QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &method, &status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Method = models.PaymentMethod(method)
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

// UpdateStatus writes a payment status and reports the rows affected.
func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (int64, error) {
	query := `UPDATE payments SET status = $2 WHERE payment_id = $1`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, paymentID, string(status))
	if err != nil {
		r.logger.Error("Failed to update payment status", logging.Fields{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
		return 0, err
	}
	return result.RowsAffected()
}
