package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"latch/internal/clock"
	"latch/internal/lock"
	"latch/internal/logging"
	"latch/internal/testsupport"
)

func newManager(t *testing.T) (*lock.Manager, *clock.Manual) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return lock.NewManager(st, clk, logging.NewNop()), clk
}

func TestAcquireConflictsWhileHeld(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if handle.HolderID == "" {
		t.Fatal("expected non-empty holder id")
	}

	if _, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second); !errors.Is(err, lock.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	// A different key is an independent lease.
	if _, err := mgr.Acquire(ctx, "account:acct_2", 30*time.Second); err != nil {
		t.Fatalf("acquire on different key: %v", err)
	}
}

func TestAcquireReclaimsExpiredLease(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	clk.Advance(31 * time.Second)

	handle, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if got := handle.ExpiresAt; !got.Equal(clk.Now().Add(30 * time.Second)) {
		t.Fatalf("unexpected lease expiry %v", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "transfer:txn_9", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := mgr.Release(ctx, handle); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mgr.Release(ctx, handle); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	if err := mgr.Release(ctx, nil); err != nil {
		t.Fatalf("nil handle release should be a no-op: %v", err)
	}

	held, err := mgr.IsHeld(ctx, "transfer:txn_9")
	if err != nil {
		t.Fatalf("IsHeld: %v", err)
	}
	if held {
		t.Fatal("lease should be gone after release")
	}
}

func TestReleaseByStaleHolderKeepsCurrentLease(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()

	stale, err := mgr.Acquire(ctx, "account:acct_1", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	clk.Advance(11 * time.Second)
	current, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second)
	if err != nil {
		t.Fatalf("reacquire after expiry: %v", err)
	}

	// The stale holder releasing must not evict the new lease.
	if err := mgr.Release(ctx, stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	held, err := mgr.IsHeld(ctx, current.Key)
	if err != nil {
		t.Fatalf("IsHeld: %v", err)
	}
	if !held {
		t.Fatal("current lease should survive a stale holder's release")
	}
}

func TestIsHeldReportsExpiry(t *testing.T) {
	mgr, clk := newManager(t)
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "account:acct_1", 20*time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	held, err := mgr.IsHeld(ctx, "account:acct_1")
	if err != nil {
		t.Fatalf("IsHeld: %v", err)
	}
	if !held {
		t.Fatal("expected lease to be held")
	}

	clk.Advance(21 * time.Second)
	held, err = mgr.IsHeld(ctx, "account:acct_1")
	if err != nil {
		t.Fatalf("IsHeld after expiry: %v", err)
	}
	if held {
		t.Fatal("expired lease should report as not held")
	}
}

func TestAcquireValidatesInput(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "  ", time.Second); err == nil {
		t.Fatal("expected error for blank key")
	}
	if _, err := mgr.Acquire(ctx, "account:acct_1", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Acquire(ctx, "account:acct_1", 30*time.Second)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, lock.ErrLockConflict):
				conflicts++
			default:
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (conflicts=%d)", wins, conflicts)
	}
	if conflicts != contenders-1 {
		t.Fatalf("expected %d conflicts, got %d", contenders-1, conflicts)
	}
}
