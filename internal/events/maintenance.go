package events

import (
	"context"
	"fmt"
	"time"

	"latch/internal/store"
)

// staleReclaimMessage is recorded on events parked because their worker
// never reported back.
const staleReclaimMessage = "processing lease expired"

// ReclaimStaleProcessing rescues events stuck in processing longer than
// olderThan, usually because a worker crashed mid-flight. Events with
// budget left return to pending for another attempt; events that already
// spent their budget are parked as failed. It returns how many rows moved
// to each destination.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (requeued, parked int64, err error) {
	now := s.clock.Now()
	cutoff := store.FormatTime(now.Add(-olderThan))
	nowStr := store.FormatTime(now)

	// Exhausted events first so the requeue pass below cannot hand them
	// another attempt.
	result, err := store.Exec(ctx, s.exec,
		`UPDATE queued_events
		 SET status = ?, error_message = ?, next_retry_at = NULL, updated_at = ?
		 WHERE status = ? AND updated_at <= ? AND attempts >= max_attempts`,
		StatusFailed, staleReclaimMessage, nowStr, StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("park stale events: %w", err)
	}
	if parked, err = result.RowsAffected(); err != nil {
		return 0, 0, fmt.Errorf("park stale events: rows affected: %w", err)
	}

	result, err = store.Exec(ctx, s.exec,
		`UPDATE queued_events
		 SET status = ?, error_message = ?, next_retry_at = NULL, updated_at = ?
		 WHERE status = ? AND updated_at <= ?`,
		StatusPending, staleReclaimMessage, nowStr, StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, parked, fmt.Errorf("requeue stale events: %w", err)
	}
	if requeued, err = result.RowsAffected(); err != nil {
		return 0, parked, fmt.Errorf("requeue stale events: rows affected: %w", err)
	}
	return requeued, parked, nil
}

// RetryFailed resets a parked event to pending with a fresh attempt budget.
// This is the operator escape hatch behind the retry API and CLI command.
func (s *Store) RetryFailed(ctx context.Context, id string) (*Event, error) {
	now := store.FormatTime(s.clock.Now())
	result, err := store.Exec(ctx, s.exec,
		`UPDATE queued_events
		 SET status = ?, attempts = 0, next_retry_at = NULL, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusPending, now, id, StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("retry event %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("retry event %q: rows affected: %w", id, err)
	}
	if affected == 0 {
		ev, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("retry event %q: event is %s, not failed", id, ev.Status)
	}
	return s.GetByID(ctx, id)
}

// PurgeDone deletes completed events and returns how many were removed.
func (s *Store) PurgeDone(ctx context.Context) (int64, error) {
	return s.purge(ctx, StatusDone)
}

// PurgeFailed deletes parked events and returns how many were removed.
func (s *Store) PurgeFailed(ctx context.Context) (int64, error) {
	return s.purge(ctx, StatusFailed)
}

func (s *Store) purge(ctx context.Context, status Status) (int64, error) {
	result, err := store.Exec(ctx, s.exec,
		`DELETE FROM queued_events WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("purge %s events: %w", status, err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge %s events: rows affected: %w", status, err)
	}
	return removed, nil
}
