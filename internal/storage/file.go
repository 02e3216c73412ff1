package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opsbook/internal/playbook"
	logx "opsbook/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json    (templates, runs, schedules; rewritten atomically)
//   - <prefix>.updates.jsonl (append-only update ledger)
//   - <prefix>.audit.jsonl   (append-only audit log)
//
// The live view is an in-memory store; the files are the durable mirror.
// This is meant for single-process dev deployments; use sqlite beyond that.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	mem *memStore

	statePath   string
	updatesFile *os.File
	auditFile   *os.File
}

type fileState struct {
	Templates []*playbook.Template `json:"templates,omitempty"`
	Runs      []*playbook.Run      `json:"runs,omitempty"`
	Schedules []*playbook.Schedule `json:"schedules,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	statePath := prefix + ".state.json"
	updatesPath := prefix + ".updates.jsonl"
	auditPath := prefix + ".audit.jsonl"

	mem := NewMemory().(*memStore)
	if err := loadState(statePath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayUpdates(updatesPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	uf, err := os.OpenFile(updatesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = uf.Close()
		return nil, err
	}

	return &fileStore{
		log:         log,
		mem:         mem,
		statePath:   statePath,
		updatesFile: uf,
		auditFile:   af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.updatesFile != nil {
		err1 = s.updatesFile.Close()
		s.updatesFile = nil
	}
	if s.auditFile != nil {
		err2 = s.auditFile.Close()
		s.auditFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// ---- reads delegate to the in-memory view ----

func (s *fileStore) GetTemplate(ctx context.Context, id string) (*playbook.Template, error) {
	return s.mem.GetTemplate(ctx, id)
}

func (s *fileStore) ListTemplates(ctx context.Context) ([]*playbook.Template, error) {
	return s.mem.ListTemplates(ctx)
}

func (s *fileStore) GetRun(ctx context.Context, id string) (*playbook.Run, error) {
	return s.mem.GetRun(ctx, id)
}

func (s *fileStore) ListRuns(ctx context.Context, status playbook.RunStatus) ([]*playbook.Run, error) {
	return s.mem.ListRuns(ctx, status)
}

func (s *fileStore) GetSchedule(ctx context.Context, id string) (*playbook.Schedule, error) {
	return s.mem.GetSchedule(ctx, id)
}

func (s *fileStore) ListSchedules(ctx context.Context, runID string) ([]*playbook.Schedule, error) {
	return s.mem.ListSchedules(ctx, runID)
}

func (s *fileStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*playbook.Schedule, error) {
	return s.mem.ListDueSchedules(ctx, now)
}

func (s *fileStore) ListUpdates(ctx context.Context, runID string) ([]*playbook.Update, error) {
	return s.mem.ListUpdates(ctx, runID)
}

// ---- writes go to memory, then to disk ----

func (s *fileStore) PutTemplate(ctx context.Context, t *playbook.Template) error {
	if err := s.mem.PutTemplate(ctx, t); err != nil {
		return err
	}
	return s.saveState()
}

func (s *fileStore) PutRun(ctx context.Context, r *playbook.Run) error {
	if err := s.mem.PutRun(ctx, r); err != nil {
		return err
	}
	return s.saveState()
}

func (s *fileStore) DeleteRun(ctx context.Context, id string) error {
	if err := s.mem.DeleteRun(ctx, id); err != nil {
		return err
	}
	return s.saveState()
}

func (s *fileStore) PutSchedule(ctx context.Context, sc *playbook.Schedule) error {
	if err := s.mem.PutSchedule(ctx, sc); err != nil {
		return err
	}
	return s.saveState()
}

func (s *fileStore) AppendUpdate(ctx context.Context, u *playbook.Update) error {
	if err := s.mem.AppendUpdate(ctx, u); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatesFile == nil {
		return errors.New("updates file closed")
	}
	return json.NewEncoder(s.updatesFile).Encode(u)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// saveState rewrites the full snapshot atomically (tmp + rename).
func (s *fileStore) saveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.mu.RLock()
	st := fileState{}
	for _, t := range s.mem.templates {
		st.Templates = append(st.Templates, t)
	}
	for _, r := range s.mem.runs {
		st.Runs = append(st.Runs, r)
	}
	for _, sc := range s.mem.schedules {
		st.Schedules = append(st.Schedules, sc)
	}
	s.mem.mu.RUnlock()

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func loadState(path string, mem *memStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	ctx := context.Background()
	for _, t := range st.Templates {
		_ = mem.PutTemplate(ctx, t)
	}
	for _, r := range st.Runs {
		_ = mem.PutRun(ctx, r)
	}
	for _, sc := range st.Schedules {
		_ = mem.PutSchedule(ctx, sc)
	}
	return nil
}

func replayUpdates(path string, mem *memStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u playbook.Update
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			// Skip torn/partial lines (e.g. crash mid-append).
			continue
		}
		if u.ID == "" {
			continue
		}
		_ = mem.AppendUpdate(ctx, &u)
	}
	return sc.Err()
}
