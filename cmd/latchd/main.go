// Command latchd runs the latch daemon: the billing webhook receiver, the
// event worker pool, and the operational HTTP API.
package main

import (
	"context"
	"log"
	"os/signal"

	"golang.org/x/sys/unix"

	"latch/internal/account"
	"latch/internal/billing"
	"latch/internal/clock"
	"latch/internal/config"
	"latch/internal/daemon"
	"latch/internal/events"
	"latch/internal/lock"
	"latch/internal/logging"
	"latch/internal/store"
	"latch/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	clk := clock.System()
	accounts := account.NewStore(st, clk)
	queue := events.NewStore(st, clk, cfg)
	locks := lock.NewManager(st, clk, logger)
	processor := billing.NewProcessor(st, accounts, queue, locks, cfg, logger)
	workers := worker.NewManager(cfg, queue, processor, logger)

	d, err := daemon.New(cfg, st, accounts, queue, workers, clk, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = st.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("latchd shutting down")
}
