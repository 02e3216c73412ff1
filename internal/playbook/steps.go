package playbook

import "time"

// StepOutcome reports what a Complete/Skip transition actually did.
type StepOutcome struct {
	Step *Step

	// Changed is false when the step was already resolved (idempotent no-op).
	Changed bool

	// RunCompleted is true when this transition resolved the last open step.
	// The caller must tear down the run's live timers when set.
	RunCompleted bool
}

// CompleteStep marks a step completed and advances the run.
//
// Rules:
//   - unknown step id: ErrStepNotFound
//   - already resolved step: success, no state change, no index move
//   - the current step (not last) advances CurrentStepIndex by one
//   - when every step is resolved, the run flips to completed with a
//     completion timestamp; this happens at most once per run
func CompleteStep(r *Run, stepID string, now time.Time) (StepOutcome, error) {
	return resolveStep(r, stepID, StepCompleted, now)
}

// SkipStep is CompleteStep with status skipped and no completion timestamp
// on the step.
func SkipStep(r *Run, stepID string, now time.Time) (StepOutcome, error) {
	return resolveStep(r, stepID, StepSkipped, now)
}

func resolveStep(r *Run, stepID string, to StepStatus, now time.Time) (StepOutcome, error) {
	idx := -1
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return StepOutcome{}, ErrStepNotFound
	}

	st := &r.Steps[idx]
	if st.Status.Resolved() {
		// Re-completing or re-skipping must not double-advance the index or
		// re-trigger completion side effects.
		return StepOutcome{Step: st}, nil
	}

	st.Status = to
	if to == StepCompleted {
		t := now
		st.CompletedAt = &t
	}

	if idx == r.CurrentStepIndex && idx < len(r.Steps)-1 {
		r.CurrentStepIndex++
	}

	out := StepOutcome{Step: st, Changed: true}
	if r.AllResolved() {
		r.Status = RunCompleted
		t := now
		r.CompletedAt = &t
		out.RunCompleted = true
	}
	return out, nil
}
