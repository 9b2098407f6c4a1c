package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"latch/internal/clock"
	"latch/internal/config"
	"latch/internal/store"
)

const eventColumns = `id, type, payload, status, attempts, max_attempts, next_retry_at, error_message, processed_at, created_at, updated_at`

// defaultListLimit bounds unpaginated listings from the CLI and API.
const defaultListLimit = 100

// Store reads and writes queued events through a shared executor.
type Store struct {
	exec        store.Executor
	clock       clock.Clock
	backoffBase time.Duration
	maxAttempts int
}

// NewStore builds an event store using the queue settings from cfg.
func NewStore(st *store.Store, clk clock.Clock, cfg *config.Config) *Store {
	return &Store{
		exec:        st.Executor(),
		clock:       clk,
		backoffBase: time.Duration(cfg.Queue.RetryBackoffBase) * time.Second,
		maxAttempts: cfg.Queue.MaxAttempts,
	}
}

// WithExecutor returns a copy of the store bound to exec, typically a
// transaction, so event writes can join a larger atomic unit.
func (s *Store) WithExecutor(exec store.Executor) *Store {
	clone := *s
	clone.exec = exec
	return &clone
}

// Enqueue inserts a pending event under the caller-supplied idempotency id.
// Redelivering an id that already exists is not an error: the stored event
// is returned and inserted reports false. A non-positive maxAttempts takes
// the configured default; the row keeps whatever budget it was born with.
func (s *Store) Enqueue(ctx context.Context, id, eventType string, payload []byte, maxAttempts int) (ev *Event, inserted bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, errors.New("event id is required")
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, false, errors.New("event type is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	now := s.clock.Now()
	result, err := store.Exec(ctx, s.exec,
		`INSERT INTO queued_events (id, type, payload, status, attempts, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, eventType, string(payload), StatusPending, maxAttempts,
		store.FormatTime(now), store.FormatTime(now),
	)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue event %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("enqueue event %q: rows affected: %w", id, err)
	}

	ev, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ev, affected > 0, nil
}

// GetByID loads one event.
func (s *Store) GetByID(ctx context.Context, id string) (*Event, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM queued_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load event %q: %w", id, err)
	}
	return ev, nil
}

// DequeueNext atomically claims the oldest eligible pending event, moves it
// to processing, and charges one attempt. It returns nil with no error when
// nothing is ready. The claim is a single guarded UPDATE, so concurrent
// workers can never hold the same event.
func (s *Store) DequeueNext(ctx context.Context) (*Event, error) {
	now := store.FormatTime(s.clock.Now())

	var claimed *Event
	err := store.RetryOnBusy(ctx, func() error {
		row := s.exec.QueryRowContext(ctx,
			`UPDATE queued_events
			 SET status = ?, attempts = attempts + 1, processed_at = ?, updated_at = ?
			 WHERE id = (
			     SELECT id FROM queued_events
			     WHERE status = ?
			       AND attempts < max_attempts
			       AND (next_retry_at IS NULL OR next_retry_at <= ?)
			     ORDER BY created_at, id
			     LIMIT 1
			 )
			 RETURNING `+eventColumns,
			StatusProcessing, now, now, StatusPending, now,
		)
		ev, err := scanEvent(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return nil
		}
		if err != nil {
			return err
		}
		claimed = ev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue event: %w", err)
	}
	return claimed, nil
}

// MarkDone finishes a processing event. Completing an event that is already
// done is a no-op so crash-replayed completions stay harmless.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	now := store.FormatTime(s.clock.Now())
	result, err := store.Exec(ctx, s.exec,
		`UPDATE queued_events
		 SET status = ?, processed_at = ?, next_retry_at = NULL, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusDone, now, now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark event %q done: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event %q done: rows affected: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ev.Status == StatusDone {
		return nil
	}
	return fmt.Errorf("mark event %q done: event is %s, not processing", id, ev.Status)
}

// MarkFailed records a failed attempt for a processing event. While budget
// remains the event returns to pending with an exponentially growing
// next_retry_at; once attempts reach the budget it is parked as failed and
// the returned error wraps ErrExhausted.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) (*Event, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}

	switch ev.Status {
	case StatusProcessing:
		// fall through to the guarded update below
	case StatusFailed:
		return ev, fmt.Errorf("event %q: %w", id, ErrExhausted)
	default:
		return nil, fmt.Errorf("mark event %q failed: event is %s, not processing", id, ev.Status)
	}

	now := s.clock.Now()
	if ev.Attempts >= ev.MaxAttempts {
		result, err := store.Exec(ctx, s.exec,
			`UPDATE queued_events
			 SET status = ?, error_message = ?, next_retry_at = NULL, updated_at = ?
			 WHERE id = ? AND status = ?`,
			StatusFailed, message, store.FormatTime(now), id, StatusProcessing,
		)
		if err != nil {
			return nil, fmt.Errorf("park event %q: %w", id, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("park event %q: rows affected: %w", id, err)
		} else if affected == 0 {
			return nil, fmt.Errorf("park event %q: event moved concurrently", id)
		}
		parked, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return parked, fmt.Errorf("event %q after %d attempts: %w", id, ev.Attempts, ErrExhausted)
	}

	retryAt := now.Add(withJitter(backoff(s.backoffBase, ev.Attempts)))
	result, err := store.Exec(ctx, s.exec,
		`UPDATE queued_events
		 SET status = ?, error_message = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusPending, message, store.FormatTime(retryAt), store.FormatTime(now),
		id, StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("reschedule event %q: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("reschedule event %q: rows affected: %w", id, err)
	} else if affected == 0 {
		return nil, fmt.Errorf("reschedule event %q: event moved concurrently", id)
	}
	return s.GetByID(ctx, id)
}

// List returns events, newest first, optionally filtered by status. A
// non-positive limit applies the default page size.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + eventColumns + ` FROM queued_events`
	args := make([]any, 0, 2)
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return result, nil
}

// Stats counts events per lifecycle state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.exec.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM queued_events GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status Status
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("queue stats: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev           Event
		payload      string
		nextRetryAt  sql.NullString
		errorMessage sql.NullString
		processedAt  sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&ev.ID, &ev.Type, &payload, &ev.Status, &ev.Attempts, &ev.MaxAttempts,
		&nextRetryAt, &errorMessage, &processedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	ev.Payload = []byte(payload)
	ev.ErrorMessage = errorMessage.String

	var err error
	if ev.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ev.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if nextRetryAt.Valid {
		ts, err := store.ParseTime(nextRetryAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse next_retry_at: %w", err)
		}
		ev.NextRetryAt = &ts
	}
	if processedAt.Valid {
		ts, err := store.ParseTime(processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		ev.ProcessedAt = &ts
	}
	return &ev, nil
}
