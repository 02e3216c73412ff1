// Package notifier delivers scheduled-update notifications to run
// participants.
//
// Delivery is asynchronous: Notify enqueues and returns; a worker pool drains
// the queue through a rate limiter, retries transient failures with jittered
// backoff, and suppresses duplicates within a configurable window. Failures
// are logged and published on the event bus, never propagated back to the
// scheduler.
package notifier
