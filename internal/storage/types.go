package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing persisted
//   - "file": dependency-free file backend (json snapshot + jsonl appends)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one lifecycle action against a run.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	RunID      string    `json:"run_id,omitempty"`
	StepID     string    `json:"step_id,omitempty"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"err,omitempty"`
}
