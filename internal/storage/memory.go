package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsbook/internal/playbook"
)

// memStore keeps everything in process-local maps.
//
// Values are copied on the way in and out so callers can't alias store state;
// the scheduler and lifecycle service mutate their own copies and persist
// explicitly.
type memStore struct {
	mu        sync.RWMutex
	templates map[string]*playbook.Template
	runs      map[string]*playbook.Run
	schedules map[string]*playbook.Schedule
	updates   map[string][]*playbook.Update // keyed by run id, append order
	audit     []AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		templates: map[string]*playbook.Template{},
		runs:      map[string]*playbook.Run{},
		schedules: map[string]*playbook.Schedule{},
		updates:   map[string][]*playbook.Update{},
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) PutTemplate(ctx context.Context, t *playbook.Template) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (s *memStore) GetTemplate(ctx context.Context, id string) (*playbook.Template, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, playbook.ErrTemplateNotFound
	}
	return cloneTemplate(t), nil
}

func (s *memStore) ListTemplates(ctx context.Context) ([]*playbook.Template, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) PutRun(ctx context.Context, r *playbook.Run) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*playbook.Run, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, playbook.ErrRunNotFound
	}
	return cloneRun(r), nil
}

func (s *memStore) ListRuns(ctx context.Context, status playbook.RunStatus) ([]*playbook.Run, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *memStore) DeleteRun(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return playbook.ErrRunNotFound
	}
	delete(s.runs, id)
	return nil
}

func (s *memStore) PutSchedule(ctx context.Context, sc *playbook.Schedule) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

func (s *memStore) GetSchedule(ctx context.Context, id string) (*playbook.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, playbook.ErrScheduleNotFound
	}
	return cloneSchedule(sc), nil
}

func (s *memStore) ListSchedules(ctx context.Context, runID string) ([]*playbook.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.Schedule, 0, 4)
	for _, sc := range s.schedules {
		if runID != "" && sc.RunID != runID {
			continue
		}
		out = append(out, cloneSchedule(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*playbook.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*playbook.Schedule
	for _, sc := range s.schedules {
		if !sc.NextRun.After(now) {
			out = append(out, cloneSchedule(sc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}

func (s *memStore) AppendUpdate(ctx context.Context, u *playbook.Update) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.updates[u.RunID] = append(s.updates[u.RunID], &cp)
	return nil
}

func (s *memStore) ListUpdates(ctx context.Context, runID string) ([]*playbook.Update, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.updates[runID]
	out := make([]*playbook.Update, 0, len(list))
	for _, u := range list {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

// ---- copies ----

func cloneTemplate(t *playbook.Template) *playbook.Template {
	cp := *t
	cp.Steps = cloneStepsVerbatim(t.Steps)
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp
}

func cloneRun(r *playbook.Run) *playbook.Run {
	cp := *r
	cp.Steps = cloneStepsVerbatim(r.Steps)
	cp.Participants = append([]string(nil), r.Participants...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneSchedule(sc *playbook.Schedule) *playbook.Schedule {
	cp := *sc
	cp.Days = append([]int(nil), sc.Days...)
	return &cp
}

// cloneStepsVerbatim copies steps without touching statuses or timestamps
// (unlike playbook.CloneSteps, which resets them for a fresh run snapshot).
func cloneStepsVerbatim(steps []playbook.Step) []playbook.Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]playbook.Step, len(steps))
	copy(out, steps)
	for i := range out {
		if len(steps[i].Checklist) > 0 {
			out[i].Checklist = append([]playbook.ChecklistItem(nil), steps[i].Checklist...)
		}
		if steps[i].DueAt != nil {
			t := *steps[i].DueAt
			out[i].DueAt = &t
		}
		if steps[i].CompletedAt != nil {
			t := *steps[i].CompletedAt
			out[i].CompletedAt = &t
		}
	}
	return out
}
