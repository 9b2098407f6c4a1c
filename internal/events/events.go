// Package events implements the durable inbox for billing provider
// deliveries. Enqueue is idempotent on the provider's event id, dequeue
// hands each eligible event to exactly one worker at a time, and failed
// attempts are rescheduled with exponential backoff until the attempt
// budget runs out.
package events

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a queued event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound reports that no event exists for the requested id.
	ErrNotFound = errors.New("event not found")

	// ErrProcessingFailed wraps a handler failure for one attempt. The
	// event stays in the queue and will be retried after backoff.
	ErrProcessingFailed = errors.New("event processing failed")

	// ErrExhausted reports that the event burned through its attempt
	// budget and is parked as failed until an operator intervenes.
	ErrExhausted = errors.New("event retries exhausted")
)

// Event is one row of the inbox. ID is the idempotency key derived from
// the provider's delivery id, so redelivered webhooks collapse onto the
// same row.
type Event struct {
	ID           string
	Type         string
	Payload      []byte
	Status       Status
	Attempts     int
	MaxAttempts  int
	NextRetryAt  *time.Time
	ErrorMessage string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats summarizes the queue by lifecycle state.
type Stats struct {
	Pending    int64
	Processing int64
	Done       int64
	Failed     int64
}

// Total returns the number of events across all states.
func (s Stats) Total() int64 {
	return s.Pending + s.Processing + s.Done + s.Failed
}
