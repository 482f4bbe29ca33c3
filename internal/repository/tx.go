package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
)

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn returns the transaction on ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// PostgresTransactor implements Transactor on top of database/sql.
type PostgresTransactor struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresTransactor creates a new transaction manager for db.
func NewPostgresTransactor(db *sql.DB, logger *logging.Logger) *PostgresTransactor {
	return &PostgresTransactor{db: db, logger: logger}
}

// WithinTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.logger.Error("Failed to roll back transaction", logging.Fields{
				"error": rbErr.Error(),
				"cause": err.Error(),
			})
		}
		return err
	}

	return tx.Commit()
}

// WithinSavepoint wraps fn in a SAVEPOINT. A failed statement inside fn would
// otherwise leave the whole transaction aborted.
func (t *PostgresTransactor) WithinSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return fn(ctx)
	}

	ident := pq.QuoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			t.logger.Error("Failed to roll back to savepoint", logging.Fields{
				"savepoint": name,
				"error":     rbErr.Error(),
				"cause":     err.Error(),
			})
			return errors.Join(err, rbErr)
		}
		return err
	}

	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident)
	return err
}
