// Package playbook holds the domain model for playbook templates, runs,
// schedules, and updates, plus the pure logic that operates on them:
// the step state machine and the recurrence calculator.
//
// Nothing in this package touches storage, timers, or the network.
package playbook
