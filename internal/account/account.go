// Package account persists billing accounts and guards concurrent mutation
// with optimistic versioning. Every write must name the version it read;
// a mismatch surfaces as ErrVersionConflict and the caller decides whether
// to re-read and retry.
package account

import (
	"errors"
	"time"
)

// Plan names accepted by the billing provider.
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

// Subscription states tracked per account.
const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

var (
	// ErrNotFound reports that no account exists for the requested id.
	ErrNotFound = errors.New("account not found")

	// ErrVersionConflict reports that the account changed since the caller
	// read it. The write is discarded; nothing is retried automatically.
	ErrVersionConflict = errors.New("account version conflict")
)

// Account is one customer record. Version increments by exactly one on
// every successful write and never moves otherwise.
type Account struct {
	ID                 string
	Email              string
	Plan               string
	Credits            int64
	SubscriptionStatus string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a copy safe to mutate without touching the original.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	copied := *a
	return &copied
}
