// Package daemon coordinates the long-running latch process.
//
// It wires configuration, the SQLite store, the event queue, and the worker
// pool into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon also owns the HTTP surface: the billing webhook
// receiver and the token-guarded operational API.
//
// Keep orchestration logic here: queue semantics live in events, account
// mutation in billing, and the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
