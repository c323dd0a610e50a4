package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, &sql.TxOptions{}, fn)
}

// TransactionWithOptions executes a function within a database transaction with custom options
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	db.logger.WithContext(ctx).Debug("starting database transaction")

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ctx, tx); err != nil {
			db.logger.WithContext(ctx).Debug("transaction failed, rolling back",
				zap.Error(err),
			)
			return err
		}

		db.logger.WithContext(ctx).Debug("transaction committed successfully")
		return nil
	}, opts)
}

// TransactionManager provides transaction management utilities
type TransactionManager struct {
	db *DB
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// Execute executes a function within a transaction with automatic retry
func (tm *TransactionManager) Execute(ctx context.Context, fn TxFunc) error {
	return tm.ExecuteWithRetry(ctx, 3, fn)
}

// ExecuteWithRetry executes a function within a transaction with retry on specific errors
func (tm *TransactionManager) ExecuteWithRetry(ctx context.Context, maxRetries int, fn TxFunc) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			tm.db.logger.WithContext(ctx).Warn("retrying transaction",
				zap.Int("attempt", i+1),
				zap.Int("max_retries", maxRetries),
				zap.Error(lastErr),
			)
		}

		err := tm.db.Transaction(ctx, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// ReadCommitted executes a function in READ COMMITTED isolation level
func (tm *TransactionManager) ReadCommitted(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	}, fn)
}

// RepeatableRead executes a function in REPEATABLE READ isolation level
func (tm *TransactionManager) RepeatableRead(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  false,
	}, fn)
}

// Serializable executes a function in SERIALIZABLE isolation level
func (tm *TransactionManager) Serializable(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  false,
	}, fn)
}

// ReadOnlySnapshot executes a read-only transaction in REPEATABLE READ isolation,
// giving the function a single consistent snapshot of the database.
func (tm *TransactionManager) ReadOnlySnapshot(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	}, fn)
}

// IsRetryableError checks if an error is a transient transaction failure
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// PostgreSQL serialization failure: 40001, deadlock detected: 40P01
	errMsg := err.Error()
	return strings.Contains(errMsg, "SQLSTATE 40001") ||
		strings.Contains(errMsg, "SQLSTATE 40P01")
}

// TransactionKey is the context key for storing transaction
type TransactionKey struct{}

// ContextWithTransaction adds transaction to context
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, TransactionKey{}, tx)
}

// TransactionFromContext extracts transaction from context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(TransactionKey{}).(*gorm.DB)
	return tx, ok
}

// GetDBFromContext returns the transaction from context if one is active,
// otherwise the base connection.
func (db *DB) GetDBFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
