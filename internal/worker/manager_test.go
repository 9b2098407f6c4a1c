package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"latch/internal/clock"
	"latch/internal/config"
	"latch/internal/events"
	"latch/internal/logging"
	"latch/internal/testsupport"
	"latch/internal/worker"
)

type stubProcessor struct {
	mu       sync.Mutex
	failures int
	calls    int
	queue    *events.Store
}

func (p *stubProcessor) Process(ctx context.Context, ev *events.Event) error {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	p.mu.Unlock()

	if fail {
		return errors.New("stub failure")
	}
	return p.queue.MarkDone(ctx, ev.ID)
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newQueue(t *testing.T, opts ...testsupport.ConfigOption) (*events.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	return events.NewStore(st, clock.System(), cfg), cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerProcessesEnqueuedEvent(t *testing.T) {
	queue, cfg := newQueue(t)
	ctx := context.Background()

	if _, _, err := queue.Enqueue(ctx, "billing:evt_1", "invoice.paid", []byte(`{}`), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processor := &stubProcessor{queue: queue}
	mgr := worker.NewManager(cfg, queue, processor, logging.NewNop())
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 5*time.Second, func() bool {
		ev, err := queue.GetByID(ctx, "billing:evt_1")
		return err == nil && ev.Status == events.StatusDone
	})
}

func TestManagerRetriesFailedAttempts(t *testing.T) {
	queue, cfg := newQueue(t)
	ctx := context.Background()

	if _, _, err := queue.Enqueue(ctx, "billing:evt_1", "invoice.paid", []byte(`{}`), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First attempt fails, second succeeds after backoff.
	processor := &stubProcessor{queue: queue, failures: 1}
	mgr := worker.NewManager(cfg, queue, processor, logging.NewNop())
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 10*time.Second, func() bool {
		ev, err := queue.GetByID(ctx, "billing:evt_1")
		return err == nil && ev.Status == events.StatusDone
	})

	ev, err := queue.GetByID(ctx, "billing:evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", ev.Attempts)
	}
	if processor.callCount() != 2 {
		t.Fatalf("processor calls = %d, want 2", processor.callCount())
	}
}

func TestManagerParksExhaustedEvent(t *testing.T) {
	queue, cfg := newQueue(t, testsupport.WithMaxAttempts(2))
	ctx := context.Background()

	if _, _, err := queue.Enqueue(ctx, "billing:evt_1", "invoice.paid", []byte(`{}`), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processor := &stubProcessor{queue: queue, failures: 100}
	mgr := worker.NewManager(cfg, queue, processor, logging.NewNop())
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 10*time.Second, func() bool {
		ev, err := queue.GetByID(ctx, "billing:evt_1")
		return err == nil && ev.Status == events.StatusFailed
	})

	ev, err := queue.GetByID(ctx, "billing:evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", ev.Attempts)
	}
	if ev.ErrorMessage == "" {
		t.Fatal("parked event should record the last failure")
	}
}

func TestManagerStartStopLifecycle(t *testing.T) {
	queue, cfg := newQueue(t)

	processor := &stubProcessor{queue: queue}
	mgr := worker.NewManager(cfg, queue, processor, logging.NewNop())

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("second start should fail while running")
	}
	if !mgr.Running() {
		t.Fatal("manager should report running")
	}

	mgr.Stop()
	if mgr.Running() {
		t.Fatal("manager should report stopped")
	}
	// Stop is idempotent.
	mgr.Stop()

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	mgr.Stop()
}
