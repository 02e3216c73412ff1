// Package storage provides the persistence layer for templates, runs,
// schedules, the update ledger, and the audit log.
//
// Drivers:
//   - "memory": process-local, for tests and throwaway runs
//   - "file":   dependency-free file backend (json snapshot + jsonl appends)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
