package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrSavepoint marks a failure to create, roll back to, or release a savepoint.
// The enclosing transaction must not be used for further work once this is returned.
var ErrSavepoint = errors.New("savepoint failure")

// TxManager scopes units of work to a single transaction. Repositories accept a
// sqlx.ExtContext so the same call works against the pool or an open *sqlx.Tx.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// Querier returns the handle for statements that run outside a transaction.
func (m *TxManager) Querier() sqlx.ExtContext {
	return m.db
}

// WithTx runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
func (m *TxManager) WithTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithSavepoint runs fn behind a savepoint on tx. When fn fails only the statements issued
// since the savepoint are undone and fn's error is returned; the transaction stays usable.
// If the savepoint itself cannot be managed the returned error wraps ErrSavepoint.
func (m *TxManager) WithSavepoint(ctx context.Context, tx sqlx.ExtContext, name string, fn func() error) error {
	if !validSavepointName(name) {
		return fmt.Errorf("%w: invalid name %q", ErrSavepoint, name)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSavepoint, name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback to %s: %v", ErrSavepoint, name, rbErr))
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrSavepoint, name, err)
	}
	return nil
}

// Savepoint names are interpolated into SQL, so only identifiers are accepted.
func validSavepointName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
