// Package lock provides named, TTL-bound mutual-exclusion leases backed by
// the locks table. Keys are independent collision domains; there is no
// hierarchy, no fairness, and no blocking wait: a racing acquirer fails
// fast with ErrLockConflict and decides for itself whether to retry.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"latch/internal/clock"
	"latch/internal/logging"
	"latch/internal/store"
)

// ErrLockConflict reports that a live lease for the key is held elsewhere.
// It is normal control flow under contention, never a data error.
var ErrLockConflict = errors.New("lock conflict")

// Handle identifies one successful acquisition. Release only removes the
// row while it still belongs to this holder.
type Handle struct {
	Key       string
	HolderID  string
	ExpiresAt time.Time
}

// Manager acquires and releases leases. A lease whose expires_at has passed
// is treated as absent even while the row physically remains; acquisition
// purges it lazily.
type Manager struct {
	exec   store.Executor
	clock  clock.Clock
	logger *slog.Logger
}

// NewManager constructs a lock manager on top of the shared store.
func NewManager(st *store.Store, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		exec:   st.Executor(),
		clock:  clk,
		logger: logging.NewComponentLogger(logger, "lock"),
	}
}

// Acquire inserts a lease for key expiring after ttl. If a row for key
// exists and has expired it is purged and the insert retried once; a live
// row yields ErrLockConflict.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	now := m.clock.Now()
	handle := &Handle{
		Key:       key,
		HolderID:  uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	err := m.insert(ctx, handle)
	if err == nil {
		return handle, nil
	}
	if !store.IsUniqueViolation(err) {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	// The key is taken; reclaim it only if the existing lease expired.
	if _, purgeErr := store.Exec(ctx, m.exec,
		`DELETE FROM locks WHERE key = ? AND expires_at <= ?`,
		key, store.FormatTime(now),
	); purgeErr != nil {
		return nil, fmt.Errorf("purge expired lock %q: %w", key, purgeErr)
	}

	err = m.insert(ctx, handle)
	if err == nil {
		m.logger.Debug("reclaimed expired lease", logging.String(logging.FieldLockKey, key))
		return handle, nil
	}
	if store.IsUniqueViolation(err) {
		return nil, fmt.Errorf("acquire lock %q: %w", key, ErrLockConflict)
	}
	return nil, fmt.Errorf("acquire lock %q: %w", key, err)
}

// Release deletes the lease identified by handle. Releasing a lease no
// longer held by this holder is a no-op, never an error.
func (m *Manager) Release(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	if _, err := store.Exec(ctx, m.exec,
		`DELETE FROM locks WHERE key = ? AND id = ?`,
		handle.Key, handle.HolderID,
	); err != nil {
		return fmt.Errorf("release lock %q: %w", handle.Key, err)
	}
	return nil
}

// IsHeld reports whether an unexpired lease exists for key.
func (m *Manager) IsHeld(ctx context.Context, key string) (bool, error) {
	var count int
	err := m.exec.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM locks WHERE key = ? AND expires_at > ?`,
		key, store.FormatTime(m.clock.Now()),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check lock %q: %w", key, err)
	}
	return count > 0, nil
}

func (m *Manager) insert(ctx context.Context, handle *Handle) error {
	_, err := store.Exec(ctx, m.exec,
		`INSERT INTO locks (key, id, expires_at) VALUES (?, ?, ?)`,
		handle.Key, handle.HolderID, store.FormatTime(handle.ExpiresAt),
	)
	return err
}
