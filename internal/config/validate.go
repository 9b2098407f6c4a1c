package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Bind != "" && c.Server.WebhookSecret == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/latch/config.toml"
		}
		return fmt.Errorf("server.webhook_secret is required when server.bind is set. Set LATCH_WEBHOOK_SECRET env var or edit %s (create with 'latch config new')", defaultPath)
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.StaleProcessingTimeout <= c.Queue.PollInterval {
		return errors.New("queue.stale_processing_timeout must exceed queue.poll_interval")
	}
	if c.Queue.MaxAttempts > 50 {
		return errors.New("queue.max_attempts must be 50 or fewer")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
