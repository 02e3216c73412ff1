package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"opsbook/internal/playbook"
	logx "opsbook/pkg/logx"
)

// Store is the persistence API used by the run lifecycle and scheduler.
//
// Lookups for missing entities return the playbook sentinel errors
// (playbook.ErrRunNotFound and friends), never (nil, nil).
type Store interface {
	PutTemplate(ctx context.Context, t *playbook.Template) error
	GetTemplate(ctx context.Context, id string) (*playbook.Template, error)
	ListTemplates(ctx context.Context) ([]*playbook.Template, error)

	PutRun(ctx context.Context, r *playbook.Run) error
	GetRun(ctx context.Context, id string) (*playbook.Run, error)
	// ListRuns filters by status; an empty status lists everything.
	ListRuns(ctx context.Context, status playbook.RunStatus) ([]*playbook.Run, error)
	DeleteRun(ctx context.Context, id string) error

	PutSchedule(ctx context.Context, s *playbook.Schedule) error
	GetSchedule(ctx context.Context, id string) (*playbook.Schedule, error)
	ListSchedules(ctx context.Context, runID string) ([]*playbook.Schedule, error)
	// ListDueSchedules returns every schedule whose NextRun is at or before
	// now. The scheduler's sweep loop drives firing from this query so a
	// process restart never silently loses pending fires.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*playbook.Schedule, error)

	AppendUpdate(ctx context.Context, u *playbook.Update) error
	ListUpdates(ctx context.Context, runID string) ([]*playbook.Update, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
