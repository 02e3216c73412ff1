package playbook

import "errors"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrStepNotFound     = errors.New("step not found")

	// ErrRunNotActive is returned for step/schedule mutations on a run that
	// has already completed or been archived.
	ErrRunNotActive = errors.New("run is not active")

	// ErrPastNextRun is returned when a caller-driven custom schedule carries
	// a NextRun that is not strictly in the future.
	ErrPastNextRun = errors.New("next run must be in the future")
)
