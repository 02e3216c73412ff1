package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"opsbook/internal/playbook"
	logx "opsbook/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- templates ----

func (s *sqliteStore) PutTemplate(ctx context.Context, t *playbook.Template) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates(id, name, doc, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, doc=excluded.doc, updated_at=excluded.updated_at`,
		t.ID, t.Name, string(doc), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetTemplate(ctx context.Context, id string) (*playbook.Template, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM templates WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, playbook.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	var t playbook.Template
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) ListTemplates(ctx context.Context) ([]*playbook.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*playbook.Template
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t playbook.Template
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ---- runs ----

func (s *sqliteStore) PutRun(ctx context.Context, r *playbook.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, status, doc, started_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, doc=excluded.doc`,
		r.ID, string(r.Status), string(doc), r.StartedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*playbook.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM runs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, playbook.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var r playbook.Run
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, status playbook.RunStatus) ([]*playbook.Run, error) {
	q := `SELECT doc FROM runs ORDER BY started_at`
	args := []any{}
	if status != "" {
		q = `SELECT doc FROM runs WHERE status = ? ORDER BY started_at`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*playbook.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r playbook.Run
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrRunNotFound
	}
	return nil
}

// ---- schedules ----

func (s *sqliteStore) PutSchedule(ctx context.Context, sc *playbook.Schedule) error {
	doc, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, run_id, next_run, created_at, doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET next_run=excluded.next_run, doc=excluded.doc`,
		sc.ID, sc.RunID, sc.NextRun.UnixMilli(), sc.CreatedAt.Format(time.RFC3339Nano), string(doc),
	)
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (*playbook.Schedule, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM schedules WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, playbook.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSchedule(doc)
}

func (s *sqliteStore) ListSchedules(ctx context.Context, runID string) ([]*playbook.Schedule, error) {
	q := `SELECT doc FROM schedules ORDER BY created_at`
	args := []any{}
	if runID != "" {
		q = `SELECT doc FROM schedules WHERE run_id = ? ORDER BY created_at`
		args = append(args, runID)
	}
	return s.querySchedules(ctx, q, args...)
}

func (s *sqliteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*playbook.Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT doc FROM schedules WHERE next_run <= ? ORDER BY next_run`, now.UnixMilli())
}

func (s *sqliteStore) querySchedules(ctx context.Context, q string, args ...any) ([]*playbook.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*playbook.Schedule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		sc, err := decodeSchedule(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func decodeSchedule(doc string) (*playbook.Schedule, error) {
	var sc playbook.Schedule
	if err := json.Unmarshal([]byte(doc), &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ---- updates / audit ----

func (s *sqliteStore) AppendUpdate(ctx context.Context, u *playbook.Update) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO updates(id, run_id, step_id, content, created_at, created_by) VALUES(?,?,?,?,?,?)`,
		u.ID, u.RunID, u.StepID, u.Content, u.CreatedAt.Format(time.RFC3339Nano), u.CreatedBy,
	)
	return err
}

func (s *sqliteStore) ListUpdates(ctx context.Context, runID string) ([]*playbook.Update, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, content, created_at, created_by FROM updates WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*playbook.Update
	for rows.Next() {
		var u playbook.Update
		var createdAt string
		if err := rows.Scan(&u.ID, &u.RunID, &u.StepID, &u.Content, &createdAt, &u.CreatedBy); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			u.CreatedAt = t
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, run_id, step_id, schedule_id, detail, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.RunID),
		nullStr(e.StepID), nullStr(e.ScheduleID), nullStr(e.Detail), nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
