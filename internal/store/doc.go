// Package store owns the SQLite database behind the concurrency core.
//
// It opens the database with WAL and a busy timeout, initializes the
// embedded schema, and exposes the primitives every other component builds
// on: an Executor surface shared by *sql.DB and *sql.Tx so writes compose
// inside transactions, bounded retry on SQLITE_BUSY, driver-error mapping
// to typed conflicts, and RunInTx, the all-or-nothing transaction scope.
//
// The Store is the only mutable shared resource in the system; lock,
// account, and events stores hold no authoritative in-memory state and are
// safe to run from any number of processes against one database file.
package store
