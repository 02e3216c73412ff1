// Package sched owns the timer lifecycle for scheduled run updates.
//
// Every armed schedule holds exactly one pending timer. Firing, rescheduling
// and disarming are serialized per run; a version counter per schedule id
// invalidates stale callbacks so a disarm or re-arm can never race a timer
// that already fired. A periodic sweep re-fires schedules whose persisted
// next-run time passed while the process was down or a timer was lost.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsbook/internal/eventbus"
	"opsbook/internal/knowledge"
	"opsbook/internal/notifier"
	"opsbook/internal/playbook"
	rtsup "opsbook/internal/runtime/supervisor"
	"opsbook/internal/storage"
	logx "opsbook/pkg/logx"
)

// Config controls the manager.
type Config struct {
	// SweepInterval is how often persisted schedules are checked for missed
	// fires. Zero means the default.
	SweepInterval time.Duration
}

const defaultSweepInterval = time.Minute

// Notifier is the slice of the delivery pipeline the manager uses.
type Notifier interface {
	Broadcast(ctx context.Context, participants []string, m notifier.Message)
}

type armed struct {
	timer Timer
	runID string
}

// Manager arms one timer per schedule and drives the fire sequence.
type Manager struct {
	cfg    Config
	store  storage.Store
	lookup knowledge.Lookup
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	clock  Clock

	mu     sync.Mutex
	timers map[string]*armed // schedule id -> live timer (pending or mid-fire)
	vers   map[string]uint64 // schedule id -> arm version

	// Per-run locks serialize fire against archive/complete for the same run.
	rmu      sync.Mutex
	runLocks map[string]*sync.Mutex

	startMu sync.Mutex
	sup     *rtsup.Supervisor
}

func New(cfg Config, store storage.Store, lookup knowledge.Lookup, notify Notifier, bus eventbus.Bus, log logx.Logger, clock Clock) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = RealClock()
	}
	if lookup == nil {
		lookup = knowledge.Nop()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		lookup:   lookup,
		notify:   notify,
		bus:      bus,
		log:      log,
		clock:    clock,
		timers:   map[string]*armed{},
		vers:     map[string]uint64{},
		runLocks: map[string]*sync.Mutex{},
	}
}

// Start restores timers for every schedule of every active run, then runs the
// sweep loop until ctx is canceled.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.sup != nil {
		return nil
	}
	m.sup = rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "sched"))),
		rtsup.WithCancelOnError(false),
	)

	if err := m.restoreAll(ctx); err != nil {
		return err
	}

	m.sup.GoRestart("sweep", func(c context.Context) error {
		m.sweepLoop(c)
		return context.Canceled
	})
	return nil
}

// Stop cancels the sweep loop and every pending timer. Schedule records stay
// persisted; a later Start re-arms them.
func (m *Manager) Stop(ctx context.Context) {
	m.startMu.Lock()
	sup := m.sup
	m.sup = nil
	m.startMu.Unlock()

	m.mu.Lock()
	for id, a := range m.timers {
		a.timer.Stop()
		m.vers[id]++
		delete(m.timers, id)
	}
	m.mu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// Arm registers a single-shot timer for the schedule's NextRun. Re-arming an
// already armed schedule replaces the pending timer.
func (m *Manager) Arm(sc *playbook.Schedule) {
	delay := sc.NextRun.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	id := sc.ID
	runID := sc.RunID

	m.mu.Lock()
	if prev, ok := m.timers[id]; ok {
		prev.timer.Stop()
	}
	m.vers[id]++
	ver := m.vers[id]
	t := m.clock.AfterFunc(delay, func() {
		m.onTimer(id, ver)
	})
	m.timers[id] = &armed{timer: t, runID: runID}
	m.mu.Unlock()

	m.log.Debug("schedule armed",
		logx.String("schedule_id", id),
		logx.String("run_id", runID),
		logx.Duration("delay", delay),
		logx.Time("next_run", sc.NextRun))
}

// Disarm cancels the pending timer for one schedule. The schedule record is
// untouched.
func (m *Manager) Disarm(scheduleID string) {
	m.mu.Lock()
	if a, ok := m.timers[scheduleID]; ok {
		a.timer.Stop()
		delete(m.timers, scheduleID)
	}
	m.vers[scheduleID]++
	m.mu.Unlock()
}

// DisarmAll cancels every pending timer belonging to a run. Called on run
// completion and archival; schedule records keep their last state for audit.
//
// It takes the run's lock first, so it blocks until an in-flight fire for the
// same run drains. A fire that started before the archive therefore finishes
// (and re-arms) strictly before this runs, and its timer is cancelled here; a
// fire that starts after sees the bumped version and exits stale.
func (m *Manager) DisarmAll(runID string) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	for id, a := range m.timers {
		if a.runID != runID {
			continue
		}
		a.timer.Stop()
		delete(m.timers, id)
		m.vers[id]++
	}
	m.mu.Unlock()
	m.log.Debug("schedules disarmed", logx.String("run_id", runID))
}

// rearmIfCurrent arms the schedule's next timer only if ver is still the
// schedule's live arm version. One atomic check-and-arm so a fire can never
// re-arm a schedule that was disarmed while it was running.
func (m *Manager) rearmIfCurrent(sc *playbook.Schedule, ver uint64) bool {
	delay := sc.NextRun.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	id := sc.ID
	runID := sc.RunID

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vers[id] != ver {
		return false
	}
	if prev, ok := m.timers[id]; ok {
		prev.timer.Stop()
	}
	m.vers[id]++
	next := m.vers[id]
	t := m.clock.AfterFunc(delay, func() {
		m.onTimer(id, next)
	})
	m.timers[id] = &armed{timer: t, runID: runID}

	m.log.Debug("schedule armed",
		logx.String("schedule_id", id),
		logx.String("run_id", runID),
		logx.Duration("delay", delay),
		logx.Time("next_run", sc.NextRun))
	return true
}

// retire drops the schedule's timer entry after a fire with no successor,
// unless a concurrent Arm already replaced it.
func (m *Manager) retire(scheduleID string, ver uint64) {
	m.mu.Lock()
	if m.vers[scheduleID] == ver {
		delete(m.timers, scheduleID)
	}
	m.mu.Unlock()
}

// Armed reports whether a timer is pending for the schedule.
func (m *Manager) Armed(scheduleID string) bool {
	m.mu.Lock()
	_, ok := m.timers[scheduleID]
	m.mu.Unlock()
	return ok
}

// onTimer runs on the timer goroutine. It hands off to the supervisor so the
// fire sequence is panic-safe and bound to the manager's lifecycle.
func (m *Manager) onTimer(scheduleID string, ver uint64) {
	m.startMu.Lock()
	sup := m.sup
	m.startMu.Unlock()
	if sup == nil {
		// Fired during shutdown; the version bump in Stop already invalidated us.
		return
	}
	sup.Go0("fire."+scheduleID, func(ctx context.Context) {
		m.fire(ctx, scheduleID, ver)
	})
}

// fire executes steps 1-6 of the scheduled-update sequence. ver must match the
// schedule's current arm version or the callback is stale and ignored.
func (m *Manager) fire(ctx context.Context, scheduleID string, ver uint64) {
	// The timer entry stays in the map while the fire is in flight so a
	// concurrent Disarm/DisarmAll still finds it and bumps the version.
	m.mu.Lock()
	if m.vers[scheduleID] != ver {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	sc, err := m.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if !errors.Is(err, playbook.ErrScheduleNotFound) {
			m.log.Warn("schedule load failed on fire", logx.String("schedule_id", scheduleID), logx.Err(err))
		}
		m.retire(scheduleID, ver)
		return
	}

	lock := m.runLock(sc.RunID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the run lock: a concurrent archive/disarm wins.
	m.mu.Lock()
	stale := m.vers[scheduleID] != ver
	m.mu.Unlock()
	if stale {
		return
	}

	run, err := m.store.GetRun(ctx, sc.RunID)
	if err != nil {
		m.log.Warn("run load failed on fire",
			logx.String("schedule_id", scheduleID),
			logx.String("run_id", sc.RunID),
			logx.Err(err))
		m.retire(scheduleID, ver)
		return
	}
	if run.Status != playbook.RunActive {
		// Stale fire: the run finished between arm and fire. Scheduling simply
		// stops; the schedule record stays frozen for audit.
		m.log.Debug("stale fire ignored",
			logx.String("schedule_id", scheduleID),
			logx.String("run_id", run.ID),
			logx.String("status", string(run.Status)))
		m.retire(scheduleID, ver)
		return
	}

	now := m.clock.Now()
	content := knowledge.ResolvePrompt(ctx, m.lookup, sc.UpdatePrompt)

	stepID := playbook.StepGeneral
	if cur := run.CurrentStep(); cur != nil {
		stepID = cur.ID
	}
	upd := &playbook.Update{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		StepID:    stepID,
		Content:   content,
		CreatedAt: now,
		CreatedBy: playbook.ActorSystem,
	}
	if err := m.store.AppendUpdate(ctx, upd); err != nil {
		m.log.Error("scheduled update append failed",
			logx.String("schedule_id", scheduleID),
			logx.String("run_id", run.ID),
			logx.Err(err))
		// Rearm anyway so one bad write doesn't kill the schedule.
	} else {
		m.publish(eventbus.EventUpdateAppended, upd)
	}

	sc.LastRun = now
	next, nerr := playbook.NextOccurrence(sc, now)
	recurs := nerr == nil
	if nerr != nil {
		// Caller-driven custom schedules are one-shot: once fired, there is no
		// rule to recur by.
		if !errors.Is(nerr, playbook.ErrPastNextRun) {
			m.log.Warn("next occurrence failed; schedule stops",
				logx.String("schedule_id", scheduleID),
				logx.Err(nerr))
		}
	} else {
		sc.NextRun = next
	}

	if err := m.store.PutSchedule(ctx, sc); err != nil {
		m.log.Error("schedule persist failed",
			logx.String("schedule_id", scheduleID),
			logx.Err(err))
	}

	rearmed := false
	if recurs {
		rearmed = m.rearmIfCurrent(sc, ver)
	} else {
		m.retire(scheduleID, ver)
	}

	m.publish(eventbus.EventScheduleFired, FireEvent{
		ScheduleID: sc.ID,
		RunID:      run.ID,
		StepID:     stepID,
		At:         now,
		NextRun:    sc.NextRun,
		Rearmed:    rearmed,
	})
	_ = m.store.AppendAudit(ctx, storage.AuditEntry{
		At:         now,
		Actor:      playbook.ActorSystem,
		Action:     "schedule.fire",
		RunID:      run.ID,
		StepID:     stepID,
		ScheduleID: sc.ID,
	})

	// Best-effort fanout; failures are the notifier's problem.
	if sc.NotifyParticipants && m.notify != nil && len(run.Participants) > 0 {
		m.notify.Broadcast(ctx, run.Participants, notifier.Message{
			RunID:      run.ID,
			ScheduleID: sc.ID,
			Text:       content,
		})
	}
}

// FireEvent is the event bus payload for schedule.fired.
type FireEvent struct {
	ScheduleID string    `json:"schedule_id"`
	RunID      string    `json:"run_id"`
	StepID     string    `json:"step_id"`
	At         time.Time `json:"at"`
	NextRun    time.Time `json:"next_run"`
	Rearmed    bool      `json:"rearmed"`
}

// restoreAll re-arms schedules for every active run from their persisted
// next-run times. Past-due schedules arm with zero delay and fire immediately.
func (m *Manager) restoreAll(ctx context.Context) error {
	runs, err := m.store.ListRuns(ctx, playbook.RunActive)
	if err != nil {
		return err
	}
	restored := 0
	for _, r := range runs {
		scs, err := m.store.ListSchedules(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, sc := range scs {
			if sc.NextRun.IsZero() {
				continue
			}
			m.Arm(sc)
			restored++
		}
	}
	m.log.Info("schedules restored", logx.Int("count", restored))
	return nil
}

// sweepLoop periodically fires schedules whose persisted NextRun has passed
// without a live timer (lost timers, clock jumps, bugs). The version check in
// fire makes a sweep racing a normal timer harmless.
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	due, err := m.store.ListDueSchedules(ctx, m.clock.Now())
	if err != nil {
		m.log.Warn("due-schedule sweep failed", logx.Err(err))
		return
	}
	for _, sc := range due {
		m.mu.Lock()
		if a, ok := m.timers[sc.ID]; ok {
			a.timer.Stop()
			delete(m.timers, sc.ID)
		}
		m.vers[sc.ID]++
		ver := m.vers[sc.ID]
		m.mu.Unlock()

		m.log.Debug("sweep firing overdue schedule",
			logx.String("schedule_id", sc.ID),
			logx.Time("next_run", sc.NextRun))
		m.fire(ctx, sc.ID, ver)
	}
}

func (m *Manager) runLock(runID string) *sync.Mutex {
	m.rmu.Lock()
	defer m.rmu.Unlock()
	l, ok := m.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		m.runLocks[runID] = l
	}
	return l
}

func (m *Manager) publish(typ string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.clock.Now(), Data: data})
}
