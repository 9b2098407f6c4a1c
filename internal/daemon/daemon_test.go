package daemon_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"latch/internal/account"
	"latch/internal/billing"
	"latch/internal/clock"
	"latch/internal/config"
	"latch/internal/daemon"
	"latch/internal/events"
	"latch/internal/lock"
	"latch/internal/logging"
	"latch/internal/store"
	"latch/internal/testsupport"
	"latch/internal/worker"
)

// newDaemon wires a full daemon on the system clock so end-to-end flows,
// webhook to applied account mutation, run in real time.
func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *account.Store, *events.Store) {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	clk := clock.System()
	logger := logging.NewNop()

	accounts := account.NewStore(st, clk)
	queue := events.NewStore(st, clk, cfg)
	locks := lock.NewManager(st, clk, logger)
	processor := billing.NewProcessor(st, accounts, queue, locks, cfg, logger)
	workers := worker.NewManager(cfg, queue, processor, logger)

	d, err := daemon.New(cfg, st, accounts, queue, workers, clk, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, accounts, queue
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDaemonProcessesWebhookEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, accounts, _ := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	acct, err := accounts.Create(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	body := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"invoice.paid","data":{"account_id":"%s","credits":250}}`, acct.ID))
	req, err := http.NewRequest(http.MethodPost, "http://"+d.Addr()+"/webhooks/billing", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(billing.SignatureHeader, billing.Sign(cfg.Server.WebhookSecret, time.Now(), body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("webhook status = %d, want 202", resp.StatusCode)
	}

	waitFor(t, 10*time.Second, func() bool {
		updated, err := accounts.Get(ctx, acct.ID)
		return err == nil && updated.Credits == 250
	})

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.Queue.Done != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDaemonStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _, _ := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("second start on running daemon should fail")
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("status should report running")
	}
	if d.Addr() == "" {
		t.Fatal("started daemon should expose a bound address")
	}

	d.Stop()
	status, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("status should report stopped")
	}
	// Stop is idempotent.
	d.Stop()
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _, _ := newDaemon(t, cfg)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer first.Stop()

	// Second daemon on the same data dir must refuse to start before it
	// ever binds a listener.
	second, _, _ := newDaemon(t, cfg)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance should fail to acquire the daemon lock")
	}
}
