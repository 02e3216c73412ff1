// Package eventbus is a small in-memory fanout used to decouple the run
// lifecycle, the scheduler and the notifier from observers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the run lifecycle and scheduler.
const (
	EventRunStarted     = "run.started"
	EventRunCompleted   = "run.completed"
	EventRunArchived    = "run.archived"
	EventStepCompleted  = "step.completed"
	EventStepSkipped    = "step.skipped"
	EventScheduleAdded  = "schedule.added"
	EventScheduleFired  = "schedule.fired"
	EventUpdateAppended = "update.appended"
	EventNotifySent     = "notify.sent"
	EventNotifyFailed   = "notify.failed"
	EventNotifyDropped  = "notify.dropped"
)

// Event is a lightweight in-memory signal.
//
// Contract: Publish never blocks, subscribers get buffered channels, and a
// slow subscriber loses events rather than stalling the publisher. Data
// should be small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish delivers e to every subscriber that has buffer room. Sends happen
// under the read lock; Subscribe/unsubscribe take the write lock, so a send
// can never race a channel close.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of events lost to full subscriber buffers.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
