// Package txmanager provides the transactional execution boundary for the
// application. A unit of work passed to WithTransaction either commits as a
// whole or rolls back as a whole; repositories joining the same context see
// each other's uncommitted writes and nothing outside the transaction does.
package txmanager

import (
	"context"
	"database/sql"
	"fmt"

	dbtx "userapi/internal/database/tx"
	"userapi/internal/logger"
)

// TransactionManager coordinates database transactions over a shared pool.
type TransactionManager struct {
	db *sql.DB
}

// NewTransactionManager creates a new transaction manager.
func NewTransactionManager(db *sql.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithTransaction executes fn within a database transaction using the
// connection's default isolation level. If fn returns an error or panics the
// transaction is rolled back, otherwise it is committed. A nested call
// joins the ambient transaction instead of opening a new one.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return tm.withTx(ctx, nil, fn)
}

// WithTransactionIsolation behaves like WithTransaction but begins the
// transaction at the requested isolation level (e.g. sql.LevelSerializable).
func (tm *TransactionManager) WithTransactionIsolation(
	ctx context.Context,
	level sql.IsolationLevel,
	fn func(context.Context) error,
) error {
	return tm.withTx(ctx, &sql.TxOptions{Isolation: level}, fn)
}

func (tm *TransactionManager) withTx(ctx context.Context, opts *sql.TxOptions, fn func(context.Context) error) error {
	// Nested transactions join the outer one; commit/rollback stays with
	// the outermost caller.
	if _, ok := dbtx.FromContext(ctx); ok {
		return fn(ctx)
	}

	sqlTx, err := tm.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("transaction panic, rolling back", "panic", r)
			if rollbackErr := sqlTx.Rollback(); rollbackErr != nil {
				logger.Log.Errorw("rollback after panic failed", "error", rollbackErr)
			}
			panic(r)
		}
	}()

	if err := fn(dbtx.WithTx(ctx, sqlTx)); err != nil {
		if rollbackErr := sqlTx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// BeginTransaction starts a transaction manually and returns a context
// carrying it. The caller is responsible for calling CommitTransaction or
// RollbackTransaction on that context.
func (tm *TransactionManager) BeginTransaction(ctx context.Context) (context.Context, error) {
	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return dbtx.WithTx(ctx, sqlTx), nil
}

// CommitTransaction commits the transaction stored in the context.
func (tm *TransactionManager) CommitTransaction(ctx context.Context) error {
	sqlTx, ok := dbtx.FromContext(ctx)
	if !ok {
		return fmt.Errorf("no transaction found in context")
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the transaction stored in the context.
func (tm *TransactionManager) RollbackTransaction(ctx context.Context) error {
	sqlTx, ok := dbtx.FromContext(ctx)
	if !ok {
		return fmt.Errorf("no transaction found in context")
	}
	if err := sqlTx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
