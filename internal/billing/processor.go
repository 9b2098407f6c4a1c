package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"latch/internal/account"
	"latch/internal/config"
	"latch/internal/events"
	"latch/internal/lock"
	"latch/internal/logging"
	"latch/internal/store"
)

// casAttempts bounds re-reads when a conditional write loses a race. With
// the transfer lease in place conflicts are rare, so a small budget is
// plenty before handing the event back to the queue for backoff.
const casAttempts = 3

// Processor applies one queued billing event to the account it names. The
// mutation and the event's completion commit in the same transaction, so an
// event is either fully applied and done or untouched and retryable.
type Processor struct {
	db       *store.Store
	accounts *account.Store
	queue    *events.Store
	locks    *lock.Manager
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewProcessor wires a processor onto the shared store.
func NewProcessor(db *store.Store, accounts *account.Store, queue *events.Store, locks *lock.Manager, cfg *config.Config, logger *slog.Logger) *Processor {
	return &Processor{
		db:       db,
		accounts: accounts,
		queue:    queue,
		locks:    locks,
		lockTTL:  time.Duration(cfg.Queue.LockTTL) * time.Second,
		logger:   logging.NewComponentLogger(logger, "billing"),
	}
}

// Process applies ev and marks it done atomically. Any returned error means
// nothing was applied and the caller should record the failed attempt.
//
// Cross-account transfers take a lease over the account pair before the
// transaction opens. SQLite admits a single writer, so acquiring inside the
// transaction would deadlock against the lease writer itself; acquiring
// first also keeps lease contention from burning a write transaction.
func (p *Processor) Process(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return errors.New("nil event")
	}

	apply, lockKey, err := p.plan(ev)
	if err != nil {
		return err
	}

	if lockKey != "" {
		handle, err := p.locks.Acquire(ctx, lockKey, p.lockTTL)
		if err != nil {
			return fmt.Errorf("event %q: %w", ev.ID, err)
		}
		defer func() {
			if releaseErr := p.locks.Release(ctx, handle); releaseErr != nil {
				p.logger.Warn("lease release failed",
					logging.String(logging.FieldLockKey, lockKey),
					logging.Error(releaseErr))
			}
		}()
	}

	err = p.db.RunInTx(ctx, func(tx store.Executor) error {
		accounts := p.accounts.WithExecutor(tx)
		queue := p.queue.WithExecutor(tx)
		if err := apply(ctx, accounts); err != nil {
			return err
		}
		return queue.MarkDone(ctx, ev.ID)
	})
	if err != nil {
		return err
	}

	p.logger.Info("event applied",
		logging.String(logging.FieldEventID, ev.ID),
		logging.String(logging.FieldEventType, ev.Type))
	return nil
}

type applyFunc func(ctx context.Context, accounts *account.Store) error

// plan decodes the payload for ev and returns the mutation to run, plus the
// lease key to hold while running it (empty when no lease is needed).
func (p *Processor) plan(ev *events.Event) (applyFunc, string, error) {
	switch ev.Type {
	case TypeCheckoutCompleted:
		var payload CheckoutCompleted
		if err := decodePayload(ev.Payload, &payload); err != nil {
			return nil, "", err
		}
		if err := requireAccountID(payload.AccountID); err != nil {
			return nil, "", err
		}
		if payload.Plan != account.PlanPro && payload.Plan != account.PlanTeam {
			return nil, "", fmt.Errorf("%w: checkout plan %q", ErrBadPayload, payload.Plan)
		}
		if payload.Credits < 0 {
			return nil, "", fmt.Errorf("%w: negative credits", ErrBadPayload)
		}
		return func(ctx context.Context, accounts *account.Store) error {
			return p.mutate(ctx, accounts, payload.AccountID, func(a *account.Account) error {
				a.Plan = payload.Plan
				a.Credits += payload.Credits
				a.SubscriptionStatus = account.SubscriptionActive
				return nil
			})
		}, "", nil

	case TypeInvoicePaid:
		var payload InvoicePaid
		if err := decodePayload(ev.Payload, &payload); err != nil {
			return nil, "", err
		}
		if err := requireAccountID(payload.AccountID); err != nil {
			return nil, "", err
		}
		if payload.Credits <= 0 {
			return nil, "", fmt.Errorf("%w: invoice credits must be positive", ErrBadPayload)
		}
		return func(ctx context.Context, accounts *account.Store) error {
			return p.mutate(ctx, accounts, payload.AccountID, func(a *account.Account) error {
				a.Credits += payload.Credits
				return nil
			})
		}, "", nil

	case TypeSubscriptionCanceled:
		var payload SubscriptionCanceled
		if err := decodePayload(ev.Payload, &payload); err != nil {
			return nil, "", err
		}
		if err := requireAccountID(payload.AccountID); err != nil {
			return nil, "", err
		}
		return func(ctx context.Context, accounts *account.Store) error {
			return p.mutate(ctx, accounts, payload.AccountID, func(a *account.Account) error {
				a.Plan = account.PlanFree
				a.SubscriptionStatus = account.SubscriptionCanceled
				return nil
			})
		}, "", nil

	case TypeCreditsTransferred:
		var payload CreditsTransferred
		if err := decodePayload(ev.Payload, &payload); err != nil {
			return nil, "", err
		}
		if err := requireAccountID(payload.FromAccountID); err != nil {
			return nil, "", err
		}
		if err := requireAccountID(payload.ToAccountID); err != nil {
			return nil, "", err
		}
		if payload.FromAccountID == payload.ToAccountID {
			return nil, "", fmt.Errorf("%w: transfer to same account", ErrBadPayload)
		}
		if payload.Credits <= 0 {
			return nil, "", fmt.Errorf("%w: transfer credits must be positive", ErrBadPayload)
		}
		return func(ctx context.Context, accounts *account.Store) error {
			if err := p.mutate(ctx, accounts, payload.FromAccountID, func(a *account.Account) error {
				if a.Credits < payload.Credits {
					return fmt.Errorf("account %q has %d credits, needs %d: %w",
						a.ID, a.Credits, payload.Credits, ErrInsufficientCredits)
				}
				a.Credits -= payload.Credits
				return nil
			}); err != nil {
				return err
			}
			return p.mutate(ctx, accounts, payload.ToAccountID, func(a *account.Account) error {
				a.Credits += payload.Credits
				return nil
			})
		}, transferLockKey(payload.FromAccountID, payload.ToAccountID), nil

	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
}

// mutate performs a conditional update at the freshly read version,
// re-reading on conflict up to casAttempts times.
func (p *Processor) mutate(ctx context.Context, accounts *account.Store, id string, fn func(*account.Account) error) error {
	var lastErr error
	for i := 0; i < casAttempts; i++ {
		current, err := accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := accounts.ConditionalUpdate(ctx, id, current.Version, fn); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// transferLockKey canonicalizes the account pair so both directions of a
// transfer contend on the same lease.
func transferLockKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "transfer:" + a + ":" + b
}

func requireAccountID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing account id", ErrBadPayload)
	}
	return nil
}
