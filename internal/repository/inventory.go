package repository

import (
	"context"
	"database/sql"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

// PostgresOrderItemRepository implements OrderItemRepository.
type PostgresOrderItemRepository struct {
	db *sql.DB
}

func NewPostgresOrderItemRepository(db *sql.DB) *PostgresOrderItemRepository {
	return &PostgresOrderItemRepository{db: db}
}

// FindByOrderID returns the lines of an order.
func (r *PostgresOrderItemRepository) FindByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.OrderItem, 0)
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PostgresProductRepository implements ProductRepository.
type PostgresProductRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewPostgresProductRepository(db *sql.DB, logger *logging.Logger) *PostgresProductRepository {
	return &PostgresProductRepository{db: db, logger: logger}
}

// IncreaseStock returns quantity units of a product to stock. A product that
// no longer exists is logged and skipped.
func (r *PostgresProductRepository) IncreaseStock(ctx context.Context, productID int64, quantity int) error {
	query := `UPDATE products SET stock = stock + $2 WHERE product_id = $1`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, productID, quantity)
	if err != nil {
		return err
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		r.logger.Warn("Stock restore matched no product", logging.Fields{
			"product_id": productID,
			"quantity":   quantity,
		})
	}
	return nil
}
