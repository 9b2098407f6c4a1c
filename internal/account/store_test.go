package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"latch/internal/account"
	"latch/internal/clock"
	"latch/internal/testsupport"
)

func newStore(t *testing.T) (*account.Store, *clock.Manual) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return account.NewStore(st, clk), clk
}

func TestCreateAndGet(t *testing.T) {
	accounts, clk := newStore(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 0 {
		t.Fatalf("new account version = %d, want 0", created.Version)
	}
	if created.Plan != account.PlanFree {
		t.Fatalf("new account plan = %q, want free", created.Plan)
	}
	if !created.CreatedAt.Equal(clk.Now()) {
		t.Fatalf("created_at = %v, want clock time %v", created.CreatedAt, clk.Now())
	}

	loaded, err := accounts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Email != "ada@example.com" || loaded.Version != 0 {
		t.Fatalf("unexpected loaded account: %+v", loaded)
	}

	if _, err := accounts.Get(ctx, "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	accounts, _ := newStore(t)
	ctx := context.Background()

	if _, err := accounts.Create(ctx, "ada@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := accounts.Create(ctx, "ada@example.com"); err == nil {
		t.Fatal("expected duplicate email error")
	}
}

func TestConditionalUpdateIncrementsVersion(t *testing.T) {
	accounts, clk := newStore(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(5 * time.Second)
	updated, err := accounts.ConditionalUpdate(ctx, created.ID, 0, func(a *account.Account) error {
		a.Plan = account.PlanPro
		a.Credits += 500
		a.SubscriptionStatus = account.SubscriptionActive
		return nil
	})
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("version = %d, want 1", updated.Version)
	}
	if updated.Credits != 500 || updated.Plan != account.PlanPro {
		t.Fatalf("mutation not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("updated_at should advance, got %v", updated.UpdatedAt)
	}

	loaded, err := accounts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Version != 1 || loaded.Credits != 500 {
		t.Fatalf("persisted account mismatch: %+v", loaded)
	}
}

func TestConditionalUpdateStaleVersionFails(t *testing.T) {
	accounts, _ := newStore(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := accounts.ConditionalUpdate(ctx, created.ID, 0, func(a *account.Account) error {
		a.Credits = 100
		return nil
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Same expected version again must lose.
	_, err = accounts.ConditionalUpdate(ctx, created.ID, 0, func(a *account.Account) error {
		a.Credits = 999
		return nil
	})
	if !errors.Is(err, account.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	loaded, err := accounts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Credits != 100 || loaded.Version != 1 {
		t.Fatalf("losing write must not apply: %+v", loaded)
	}
}

func TestConditionalUpdateMutateErrorDiscardsWrite(t *testing.T) {
	accounts, _ := newStore(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("insufficient credits")
	_, err = accounts.ConditionalUpdate(ctx, created.ID, 0, func(a *account.Account) error {
		a.Credits = -50
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}

	loaded, err := accounts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Credits != 0 || loaded.Version != 0 {
		t.Fatalf("failed mutate must leave account untouched: %+v", loaded)
	}
}

func TestConcurrentConditionalUpdatesSingleWinner(t *testing.T) {
	accounts, _ := newStore(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := accounts.ConditionalUpdate(ctx, created.ID, 0, func(a *account.Account) error {
				a.Credits += 10
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, account.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 winner and %d conflicts", wins, conflicts, writers-1)
	}

	loaded, err := accounts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Version != 1 || loaded.Credits != 10 {
		t.Fatalf("exactly one increment should land: %+v", loaded)
	}
}
