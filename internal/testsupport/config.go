package testsupport

import (
	"path/filepath"
	"testing"

	"latch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timing values are shortened so polling tests converge quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Server.APIToken = "test-token"
	cfg.Server.WebhookSecret = "test-secret"
	cfg.Queue.PollInterval = 1
	cfg.Queue.ErrorRetryInterval = 1
	cfg.Queue.Workers = 1
	cfg.Queue.RetryBackoffBase = 1
	cfg.Queue.StaleProcessingTimeout = 2
	cfg.Queue.ReclaimInterval = 1
	cfg.Queue.LockTTL = 5

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return &cfg
}

// WithMaxAttempts overrides the queue retry budget on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxAttempts = n
	}
}

// WithWorkers overrides the worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Workers = n
	}
}

// WithWebhookSecret overrides the webhook signing secret on the test config.
func WithWebhookSecret(secret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Server.WebhookSecret = secret
	}
}
