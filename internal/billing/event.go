// Package billing interprets provider webhook deliveries and applies their
// effects to accounts. Deliveries are verified and enqueued at the HTTP
// boundary; the Processor consumes them from the queue and applies each one
// atomically.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event types accepted from the billing provider.
const (
	TypeCheckoutCompleted    = "checkout.completed"
	TypeInvoicePaid          = "invoice.paid"
	TypeSubscriptionCanceled = "subscription.canceled"
	TypeCreditsTransferred   = "credits.transferred"
)

// idempotencyPrefix namespaces provider delivery ids inside the queue.
const idempotencyPrefix = "billing:"

var (
	// ErrUnknownEventType reports a delivery whose type this build does
	// not handle. Retrying cannot help, so it exhausts quickly.
	ErrUnknownEventType = errors.New("unknown billing event type")

	// ErrBadPayload reports a delivery whose data section does not match
	// the schema for its type.
	ErrBadPayload = errors.New("malformed billing payload")

	// ErrInsufficientCredits rejects a transfer that would drive the
	// source account negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// WebhookEvent is the outer envelope of a provider delivery.
type WebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IdempotencyKey derives the queue id from the provider's delivery id, so
// the same delivery always lands on the same row.
func (e *WebhookEvent) IdempotencyKey() string {
	return idempotencyPrefix + e.ID
}

// ParseWebhook decodes and validates the delivery envelope.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if strings.TrimSpace(ev.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrBadPayload)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrBadPayload)
	}
	if len(ev.Data) == 0 {
		ev.Data = json.RawMessage(`{}`)
	}
	return &ev, nil
}

// CheckoutCompleted upgrades an account to the purchased plan and grants
// the bundled credits.
type CheckoutCompleted struct {
	AccountID string `json:"account_id"`
	Plan      string `json:"plan"`
	Credits   int64  `json:"credits"`
}

// InvoicePaid grants the credits purchased on a recurring invoice.
type InvoicePaid struct {
	AccountID string `json:"account_id"`
	Credits   int64  `json:"credits"`
}

// SubscriptionCanceled downgrades an account back to the free plan.
type SubscriptionCanceled struct {
	AccountID string `json:"account_id"`
}

// CreditsTransferred moves credits between two accounts.
type CreditsTransferred struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Credits       int64  `json:"credits"`
}

func decodePayload(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
