// Package config loads, normalizes, and validates the TOML configuration
// for the latch daemon and CLI. Resolution order: explicit --config flag,
// ~/.config/latch/config.toml, then ./latch.toml; defaults apply when no
// file exists.
package config
