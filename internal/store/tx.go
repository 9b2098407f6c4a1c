package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransactionAborted wraps any failure raised by a transaction body.
// The guarantee it carries: none of the body's writes persisted.
var ErrTransactionAborted = errors.New("transaction aborted")

// RunInTx executes fn as one atomic unit. If fn returns an error every
// write it performed is rolled back and the error is returned wrapped in
// ErrTransactionAborted; on success all writes become visible atomically.
// Nested scopes are not supported; fn must not call RunInTx again.
func (s *Store) RunInTx(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
