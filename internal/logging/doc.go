// Package logging constructs slog loggers for the daemon and CLI and holds
// the shared attribute helpers and field-name conventions.
package logging
