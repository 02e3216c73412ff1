// Package runs is the public entry point for run lifecycle operations. The
// surrounding command/UI layer talks only to this service; temporal behavior
// is delegated to the schedule timer manager.
package runs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsbook/internal/eventbus"
	"opsbook/internal/playbook"
	"opsbook/internal/storage"
	logx "opsbook/pkg/logx"
)

// TimerManager is the slice of the scheduler the lifecycle service drives.
type TimerManager interface {
	Arm(sc *playbook.Schedule)
	DisarmAll(runID string)
}

// Service orchestrates runs, steps, schedules and the update ledger.
type Service struct {
	store storage.Store
	mgr   TimerManager
	bus   eventbus.Bus
	log   logx.Logger

	// now is swappable for tests.
	now func() time.Time

	// defaultTZ fills Schedule.Timezone when the caller leaves it empty.
	defaultTZ string
}

func New(store storage.Store, mgr TimerManager, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		mgr:   mgr,
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// SetDefaultTimezone sets the timezone applied to schedules created without
// one. Must be called before the service handles requests.
func (s *Service) SetDefaultTimezone(tz string) { s.defaultTZ = strings.TrimSpace(tz) }

// StartRun instantiates a template. The template's steps are deep-copied so
// later template edits never affect this run.
func (s *Service) StartRun(ctx context.Context, templateID, name, description, owner string, participants []string) (*playbook.Run, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = tpl.Name
	}

	now := s.now()
	run := &playbook.Run{
		ID:               uuid.NewString(),
		TemplateID:       tpl.ID,
		TemplateVersion:  tpl.Version,
		Name:             name,
		Description:      description,
		Status:           playbook.RunActive,
		CurrentStepIndex: 0,
		Steps:            playbook.CloneSteps(tpl.Steps),
		Participants:     append([]string(nil), participants...),
		Owner:            owner,
		StartedAt:        now,
	}
	if err := s.store.PutRun(ctx, run); err != nil {
		return nil, err
	}

	s.log.Info("run started",
		logx.String("run_id", run.ID),
		logx.String("template_id", tpl.ID),
		logx.Int("steps", len(run.Steps)))
	s.publish(eventbus.EventRunStarted, run)
	s.audit(ctx, storage.AuditEntry{At: now, Actor: owner, Action: "run.start", RunID: run.ID, Detail: tpl.ID})
	return run, nil
}

// CompleteStep marks a step completed. Completing an already-resolved step is
// a no-op success. When the last unresolved step resolves, the run completes
// and all its timers are torn down.
func (s *Service) CompleteStep(ctx context.Context, runID, stepID, actor string) (*playbook.Run, error) {
	return s.resolveStep(ctx, runID, stepID, actor, true)
}

// SkipStep marks a step skipped; otherwise identical to CompleteStep.
func (s *Service) SkipStep(ctx context.Context, runID, stepID, actor string) (*playbook.Run, error) {
	return s.resolveStep(ctx, runID, stepID, actor, false)
}

func (s *Service) resolveStep(ctx context.Context, runID, stepID, actor string, complete bool) (*playbook.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == playbook.RunArchived {
		return nil, playbook.ErrRunNotActive
	}

	now := s.now()
	var out playbook.StepOutcome
	if complete {
		out, err = playbook.CompleteStep(run, stepID, now)
	} else {
		out, err = playbook.SkipStep(run, stepID, now)
	}
	if err != nil {
		return nil, err
	}
	if !out.Changed {
		return run, nil
	}

	if err := s.store.PutRun(ctx, run); err != nil {
		return nil, err
	}

	action := "step.skip"
	event := eventbus.EventStepSkipped
	if complete {
		action = "step.complete"
		event = eventbus.EventStepCompleted
	}
	s.publish(event, run)
	s.audit(ctx, storage.AuditEntry{At: now, Actor: actor, Action: action, RunID: run.ID, StepID: stepID})

	if out.RunCompleted {
		s.mgr.DisarmAll(run.ID)
		s.log.Info("run completed", logx.String("run_id", run.ID))
		s.publish(eventbus.EventRunCompleted, run)
		s.audit(ctx, storage.AuditEntry{At: now, Actor: actor, Action: "run.complete", RunID: run.ID})
	}
	return run, nil
}

// AddScheduledUpdate attaches a recurrence rule to an active run, computes its
// first occurrence, persists it and arms its timer.
func (s *Service) AddScheduledUpdate(ctx context.Context, runID string, def playbook.Schedule) (*playbook.Schedule, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != playbook.RunActive {
		return nil, playbook.ErrRunNotActive
	}

	now := s.now()
	sc := def
	sc.ID = uuid.NewString()
	sc.RunID = run.ID
	sc.CreatedAt = now
	sc.LastRun = time.Time{}
	if strings.TrimSpace(sc.Timezone) == "" {
		sc.Timezone = s.defaultTZ
	}

	next, err := playbook.NextOccurrence(&sc, now)
	if err != nil {
		return nil, err
	}
	sc.NextRun = next

	if err := s.store.PutSchedule(ctx, &sc); err != nil {
		return nil, err
	}
	s.mgr.Arm(&sc)

	s.log.Info("schedule added",
		logx.String("run_id", run.ID),
		logx.String("schedule_id", sc.ID),
		logx.String("frequency", string(sc.Frequency)),
		logx.Time("next_run", sc.NextRun))
	s.publish(eventbus.EventScheduleAdded, &sc)
	s.audit(ctx, storage.AuditEntry{At: now, Action: "schedule.add", RunID: run.ID, ScheduleID: sc.ID, Detail: string(sc.Frequency)})
	return &sc, nil
}

// AddUpdate appends a manual update to the ledger. An empty stepID targets
// the run's current step, or the general sentinel when there is none.
func (s *Service) AddUpdate(ctx context.Context, runID, stepID, content, author string) (*playbook.Update, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == playbook.RunArchived {
		return nil, playbook.ErrRunNotActive
	}
	if stepID == "" {
		stepID = playbook.StepGeneral
		if cur := run.CurrentStep(); cur != nil {
			stepID = cur.ID
		}
	}

	now := s.now()
	upd := &playbook.Update{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		StepID:    stepID,
		Content:   content,
		CreatedAt: now,
		CreatedBy: author,
	}
	if err := s.store.AppendUpdate(ctx, upd); err != nil {
		return nil, err
	}
	s.publish(eventbus.EventUpdateAppended, upd)
	s.audit(ctx, storage.AuditEntry{At: now, Actor: author, Action: "update.add", RunID: run.ID, StepID: stepID})
	return upd, nil
}

// ArchiveRun force-terminates a run from any prior status and tears down its
// timers. Schedule records keep their last state for audit.
func (s *Service) ArchiveRun(ctx context.Context, runID, actor string) (*playbook.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != playbook.RunArchived {
		run.Status = playbook.RunArchived
		if err := s.store.PutRun(ctx, run); err != nil {
			return nil, err
		}
	}
	s.mgr.DisarmAll(run.ID)

	now := s.now()
	s.log.Info("run archived", logx.String("run_id", run.ID))
	s.publish(eventbus.EventRunArchived, run)
	s.audit(ctx, storage.AuditEntry{At: now, Actor: actor, Action: "run.archive", RunID: run.ID})
	return run, nil
}

// ---- reads ----

func (s *Service) GetRun(ctx context.Context, runID string) (*playbook.Run, error) {
	return s.store.GetRun(ctx, runID)
}

func (s *Service) ListRuns(ctx context.Context, status playbook.RunStatus) ([]*playbook.Run, error) {
	return s.store.ListRuns(ctx, status)
}

func (s *Service) ListUpdates(ctx context.Context, runID string) ([]*playbook.Update, error) {
	return s.store.ListUpdates(ctx, runID)
}

func (s *Service) ListSchedules(ctx context.Context, runID string) ([]*playbook.Schedule, error) {
	return s.store.ListSchedules(ctx, runID)
}

// ListStepUpdates returns the slice of a run's ledger recorded against one
// step (or the general sentinel).
func (s *Service) ListStepUpdates(ctx context.Context, runID, stepID string) ([]*playbook.Update, error) {
	all, err := s.store.ListUpdates(ctx, runID)
	if err != nil {
		return nil, err
	}
	return playbook.FilterUpdatesByStep(all, stepID), nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
