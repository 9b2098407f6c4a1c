// Package worker drives the event queue: a pool of pollers claims pending
// events and hands them to the billing processor, and a reaper rescues
// events stranded in processing by a crashed worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"latch/internal/config"
	"latch/internal/events"
	"latch/internal/logging"
)

// Processor handles one claimed event. A nil return means the event was
// applied and completed; any error leaves the event claimed for MarkFailed.
type Processor interface {
	Process(ctx context.Context, ev *events.Event) error
}

// Manager owns the worker pool and the reaper goroutine.
type Manager struct {
	queue     *events.Store
	processor Processor
	logger    *slog.Logger

	pollInterval  time.Duration
	errorRetry    time.Duration
	workers       int
	staleTimeout  time.Duration
	reclaimPeriod time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewManager builds a manager from the queue settings in cfg.
func NewManager(cfg *config.Config, queue *events.Store, processor Processor, logger *slog.Logger) *Manager {
	return &Manager{
		queue:         queue,
		processor:     processor,
		logger:        logging.NewComponentLogger(logger, "worker"),
		pollInterval:  time.Duration(cfg.Queue.PollInterval) * time.Second,
		errorRetry:    time.Duration(cfg.Queue.ErrorRetryInterval) * time.Second,
		workers:       cfg.Queue.Workers,
		staleTimeout:  time.Duration(cfg.Queue.StaleProcessingTimeout) * time.Second,
		reclaimPeriod: time.Duration(cfg.Queue.ReclaimInterval) * time.Second,
	}
}

// Start launches the worker pool and reaper. It returns immediately; the
// goroutines run until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("worker manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func(id int) {
			defer m.wg.Done()
			m.runWorker(runCtx, id)
		}(i)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runReaper(runCtx)
	}()

	m.logger.Info("workers started", logging.Int("workers", m.workers))
	return nil
}

// Stop cancels all goroutines and waits for in-flight work to settle.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workers stopped")
}

// Running reports whether the pool is active.
func (m *Manager) Running() bool {
	return m.running.Load()
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	logger := m.logger.With(logging.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}

		ev, err := m.queue.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed", logging.Error(err))
			if !sleep(ctx, m.errorRetry) {
				return
			}
			continue
		}
		if ev == nil {
			if !sleep(ctx, m.pollInterval) {
				return
			}
			continue
		}

		m.handle(ctx, logger, ev)
	}
}

func (m *Manager) handle(ctx context.Context, logger *slog.Logger, ev *events.Event) {
	err := m.processor.Process(ctx, ev)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutdown interrupted the attempt; the reaper will requeue it.
		return
	}

	attemptErr := fmt.Errorf("%w: %w", events.ErrProcessingFailed, err)
	updated, failErr := m.queue.MarkFailed(ctx, ev.ID, attemptErr)
	switch {
	case failErr == nil:
		logger.Warn("event attempt failed, retry scheduled",
			logging.String(logging.FieldEventID, ev.ID),
			logging.String(logging.FieldEventType, ev.Type),
			logging.Int("attempts", updated.Attempts),
			logging.Error(err))
	case errors.Is(failErr, events.ErrExhausted):
		logger.Error("event exhausted its attempt budget",
			logging.String(logging.FieldEventID, ev.ID),
			logging.String(logging.FieldEventType, ev.Type),
			logging.Int("attempts", ev.Attempts),
			logging.Error(err))
	default:
		logger.Error("recording event failure failed",
			logging.String(logging.FieldEventID, ev.ID),
			logging.Error(failErr))
	}
}

func (m *Manager) runReaper(ctx context.Context) {
	ticker := time.NewTicker(m.reclaimPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		requeued, parked, err := m.queue.ReclaimStaleProcessing(ctx, m.staleTimeout)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("stale reclaim failed", logging.Error(err))
			}
			continue
		}
		if requeued > 0 || parked > 0 {
			m.logger.Warn("reclaimed stale processing events",
				logging.Int64("requeued", requeued),
				logging.Int64("parked", parked))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
