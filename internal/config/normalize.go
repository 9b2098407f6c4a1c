package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeQueue()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	c.Server.WebhookSecret = strings.TrimSpace(c.Server.WebhookSecret)
	if c.Server.WebhookSecret == "" {
		if value, ok := os.LookupEnv("LATCH_WEBHOOK_SECRET"); ok {
			c.Server.WebhookSecret = strings.TrimSpace(value)
		}
	}
	if c.Server.WebhookToleranceSeconds <= 0 {
		c.Server.WebhookToleranceSeconds = defaultWebhookToleranceSeconds
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = defaultQueuePollInterval
	}
	if c.Queue.ErrorRetryInterval <= 0 {
		c.Queue.ErrorRetryInterval = defaultQueueErrorRetryInterval
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultQueueWorkers
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = defaultQueueMaxAttempts
	}
	if c.Queue.RetryBackoffBase <= 0 {
		c.Queue.RetryBackoffBase = defaultRetryBackoffBase
	}
	if c.Queue.StaleProcessingTimeout <= 0 {
		c.Queue.StaleProcessingTimeout = defaultStaleProcessingTimeout
	}
	if c.Queue.ReclaimInterval <= 0 {
		c.Queue.ReclaimInterval = defaultReclaimInterval
	}
	if c.Queue.LockTTL <= 0 {
		c.Queue.LockTTL = defaultLockTTL
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
