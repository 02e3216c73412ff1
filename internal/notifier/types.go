package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Message is one notification addressed to a single participant.
type Message struct {
	ParticipantID string
	RunID         string
	ScheduleID    string
	Text          string
}

// DeliveryEvent is the event bus payload for notify.sent / notify.failed /
// notify.dropped.
type DeliveryEvent struct {
	ParticipantID string    `json:"participant_id"`
	RunID         string    `json:"run_id,omitempty"`
	ScheduleID    string    `json:"schedule_id,omitempty"`
	Key           string    `json:"key,omitempty"`
	At            time.Time `json:"at"`
	Error         string    `json:"error,omitempty"`
}
