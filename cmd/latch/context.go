package main

import (
	"strings"
	"sync"

	"latch/internal/account"
	"latch/internal/clock"
	"latch/internal/config"
	"latch/internal/events"
	"latch/internal/store"
)

// commandContext lazily loads configuration and opens the shared database.
// The store is opened at most once per invocation and closed by the root
// command's PersistentPostRun. WAL mode lets the CLI work on a database a
// running daemon has open.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureStore() (*store.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = store.Open(cfg)
	})
	return c.store, c.storeErr
}

func (c *commandContext) queueStore() (*events.Store, error) {
	st, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	return events.NewStore(st, clock.System(), c.config), nil
}

func (c *commandContext) accountStore() (*account.Store, error) {
	st, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	return account.NewStore(st, clock.System()), nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}
