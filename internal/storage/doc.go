// Package storage persists the settings key/value space.
//
// Drivers:
//   - memory: process-local map, used by tests and one-shot commands
//   - file:   JSON snapshot plus an append-only journal
//   - sqlite: single table in a SQLite database (pure Go driver)
package storage
