package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"latch/internal/store"
	"latch/internal/testsupport"
)

func TestOpenInitializesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st.Path() != cfg.DatabasePath() {
		t.Fatalf("path = %q, want %q", st.Path(), cfg.DatabasePath())
	}
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	// Schema tables exist and are writable.
	if _, err := st.Executor().ExecContext(ctx,
		`INSERT INTO locks (key, id, expires_at) VALUES ('k', 'h', ?)`,
		store.FormatTime(time.Now())); err != nil {
		t.Fatalf("insert into locks: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening an existing database passes the schema version check and
	// keeps the data.
	st, err = store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	var count int
	if err := st.Executor().QueryRowContext(ctx, `SELECT COUNT(1) FROM locks`).Scan(&count); err != nil {
		t.Fatalf("count locks: %v", err)
	}
	if count != 1 {
		t.Fatalf("locks count = %d, want 1", count)
	}
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := store.FormatTime(time.Now())
	err := st.RunInTx(ctx, func(tx store.Executor) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, email, plan, credits, subscription_status, version, created_at, updated_at)
			 VALUES ('a1', 'ada@example.com', 'free', 0, 'none', 0, ?, ?)`, now, now)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	var count int
	if err := st.Executor().QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("accounts count = %d, want 1", count)
	}
}

func TestRunInTxRollsBackAndWrapsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	boom := errors.New("boom")
	now := store.FormatTime(time.Now())
	err := st.RunInTx(ctx, func(tx store.Executor) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, email, plan, credits, subscription_status, version, created_at, updated_at)
			 VALUES ('a1', 'ada@example.com', 'free', 0, 'none', 0, ?, ?)`, now, now); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, store.ErrTransactionAborted) {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("wrapped error should keep the cause, got %v", err)
	}

	var count int
	if err := st.Executor().QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled back insert still visible, count = %d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	expires := store.FormatTime(time.Now())
	if _, err := st.Executor().ExecContext(ctx,
		`INSERT INTO locks (key, id, expires_at) VALUES ('k', 'h1', ?)`, expires); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := st.Executor().ExecContext(ctx,
		`INSERT INTO locks (key, id, expires_at) VALUES ('k', 'h2', ?)`, expires)
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !store.IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v) = false", err)
	}
	if store.IsUniqueViolation(errors.New("something else")) {
		t.Fatal("unrelated error misclassified as unique violation")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	original := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)
	parsed, err := store.ParseTime(store.FormatTime(original))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(original) {
		t.Fatalf("round trip changed time: %v != %v", parsed, original)
	}

	if _, err := store.ParseTime("not-a-time"); err == nil {
		t.Fatal("expected parse error")
	}
}
