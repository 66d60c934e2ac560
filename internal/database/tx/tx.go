package tx

import (
	"context"
	"database/sql"
)

// contextKey type for storing a transaction in context.
type contextKey string

const txContextKey contextKey = "database_transaction"

// WithTx stores a transaction in the context.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey, tx)
}

// FromContext extracts a transaction from the context.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// Querier is the subset of database operations that both *sql.DB and *sql.Tx
// implement. Repositories depend on this interface so the same code path runs
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetQuerier returns the transaction if one is carried by the context,
// otherwise the plain connection pool. Repositories call this on every
// operation to transparently join an ambient transaction.
func GetQuerier(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}
