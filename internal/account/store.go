package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"latch/internal/clock"
	"latch/internal/store"
)

const accountColumns = `id, email, plan, credits, subscription_status, version, created_at, updated_at`

// Store reads and writes accounts through a shared executor. The zero
// value is unusable; construct with NewStore.
type Store struct {
	exec  store.Executor
	clock clock.Clock
}

// NewStore builds an account store on the database pool.
func NewStore(st *store.Store, clk clock.Clock) *Store {
	return &Store{exec: st.Executor(), clock: clk}
}

// WithExecutor returns a copy of the store bound to exec, typically a
// transaction, so account writes can join a larger atomic unit.
func (s *Store) WithExecutor(exec store.Executor) *Store {
	return &Store{exec: exec, clock: s.clock}
}

// Create inserts a fresh account at version zero on the free plan.
func (s *Store) Create(ctx context.Context, email string) (*Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("account email is required")
	}

	now := s.clock.Now()
	acct := &Account{
		ID:                 uuid.NewString(),
		Email:              email,
		Plan:               PlanFree,
		Credits:            0,
		SubscriptionStatus: SubscriptionNone,
		Version:            0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := store.Exec(ctx, s.exec,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Email, acct.Plan, acct.Credits, acct.SubscriptionStatus,
		acct.Version, store.FormatTime(acct.CreatedAt), store.FormatTime(acct.UpdatedAt),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create account: email %q already registered: %w", email, err)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

// Get loads one account by id.
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", id, err)
	}
	return acct, nil
}

// GetByEmail loads one account by its unique email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account email %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load account by email %q: %w", email, err)
	}
	return acct, nil
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// ConditionalUpdate applies mutate to a copy of the account and persists it
// only if the stored version still equals expectedVersion. On success the
// persisted account carries expectedVersion+1. A lost race returns
// ErrVersionConflict and leaves the row untouched.
//
// mutate may change any business field; id, version, and timestamps are
// managed here and overwritten after mutate runs.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*Account) error) (*Account, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("account %q at version %d, expected %d: %w",
			id, current.Version, expectedVersion, ErrVersionConflict)
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, fmt.Errorf("mutate account %q: %w", id, err)
	}
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = s.clock.Now()

	result, err := store.Exec(ctx, s.exec,
		`UPDATE accounts
		 SET email = ?, plan = ?, credits = ?, subscription_status = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		updated.Email, updated.Plan, updated.Credits, updated.SubscriptionStatus,
		updated.Version, store.FormatTime(updated.UpdatedAt),
		id, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update account %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update account %q: rows affected: %w", id, err)
	}
	if affected == 0 {
		// Another writer moved the version between our read and write.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, getErr
		}
		return nil, fmt.Errorf("account %q moved past version %d: %w", id, expectedVersion, ErrVersionConflict)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acct      Account
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&acct.ID, &acct.Email, &acct.Plan, &acct.Credits,
		&acct.SubscriptionStatus, &acct.Version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if acct.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if acct.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &acct, nil
}
