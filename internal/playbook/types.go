package playbook

import "time"

// ActorSystem is the author recorded on updates appended by scheduled firings
// (as opposed to a real user id).
const ActorSystem = "system"

// StepGeneral is the sentinel step id used for updates that don't target a
// concrete step (e.g. a scheduled prompt firing on a run with no current step).
const StepGeneral = "general"

type StepKind string

const (
	StepKindTask         StepKind = "task"
	StepKindChecklist    StepKind = "checklist"
	StepKindUpdate       StepKind = "update"
	StepKindNotification StepKind = "notification"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// Resolved reports whether the status is terminal.
// Status transitions are monotonic: a resolved step never returns to pending.
func (s StepStatus) Resolved() bool {
	return s == StepCompleted || s == StepSkipped
}

type ChecklistItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

type Step struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Kind        StepKind        `json:"kind"`
	Status      StepStatus      `json:"status"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// UpdatePrompt is the template string used when a scheduled update
	// targets this step. See Schedule.UpdatePrompt for the kb: marker.
	UpdatePrompt string `json:"update_prompt,omitempty"`
}

// Template is an ordered sequence of steps. Step status is always pending in
// a template; runs snapshot the steps at start time.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Steps       []Step    `json:"steps"`
	Tags        []string  `json:"tags,omitempty"`
	Version     int       `json:"version"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunArchived  RunStatus = "archived"
)

// Run is a live instantiation of a template.
//
// Steps is a deep copy of the template's steps taken at start time, so later
// template edits never affect an in-flight run. TemplateVersion records which
// version was snapshotted, for audit.
//
// Invariant: 0 <= CurrentStepIndex < len(Steps) while Status == active.
// Status == completed iff every step is resolved (completed or skipped).
type Run struct {
	ID               string     `json:"id"`
	TemplateID       string     `json:"template_id"`
	TemplateVersion  int        `json:"template_version"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Status           RunStatus  `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	Steps            []Step     `json:"steps"`
	Participants     []string   `json:"participants,omitempty"`
	Owner            string     `json:"owner"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// CurrentStep returns the step at CurrentStepIndex, or nil when the run has
// no steps or the index is out of range.
func (r *Run) CurrentStep() *Step {
	if r == nil || r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.Steps) {
		return nil
	}
	return &r.Steps[r.CurrentStepIndex]
}

// AllResolved reports whether every step is completed or skipped.
// A run with zero steps is never considered resolved.
func (r *Run) AllResolved() bool {
	if r == nil || len(r.Steps) == 0 {
		return false
	}
	for i := range r.Steps {
		if !r.Steps[i].Status.Resolved() {
			return false
		}
	}
	return true
}

type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
	FreqCustom   Frequency = "custom"
)

// Schedule is a recurrence rule attached to a run that periodically requests
// an update.
//
// Invariant: NextRun is strictly in the future relative to the last
// computation (see NextOccurrence).
type Schedule struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Frequency Frequency `json:"frequency"`

	// Days is the weekly day-of-week set (0=Sunday..6=Saturday).
	// Only meaningful for weekly schedules; empty behaves like daily.
	Days []int `json:"days,omitempty"`

	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Timezone string `json:"timezone,omitempty"`

	// CronSpec drives custom schedules (5-field cron, evaluated in Timezone).
	// A custom schedule without a cron spec is caller-driven via NextRun and
	// does not recur after firing.
	CronSpec string `json:"cron_spec,omitempty"`

	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitempty"`

	UpdatePrompt       string    `json:"update_prompt"`
	NotifyParticipants bool      `json:"notify_participants"`
	CreatedAt          time.Time `json:"created_at"`
}

// Update is one entry in a run's append-only ledger.
type Update struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id"` // step id or StepGeneral
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"` // user id or ActorSystem
}

// CloneSteps deep-copies a step list, including checklists. Statuses are
// normalized to pending so a run always starts from a clean snapshot.
func CloneSteps(steps []Step) []Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].Status = StepPending
		out[i].CompletedAt = nil
		if len(steps[i].Checklist) > 0 {
			out[i].Checklist = make([]ChecklistItem, len(steps[i].Checklist))
			copy(out[i].Checklist, steps[i].Checklist)
		}
	}
	return out
}
