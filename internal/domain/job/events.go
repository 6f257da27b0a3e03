package job

import (
	"time"

	"github.com/ocrforge/procdispatch/internal/domain/events"
)

// Event types relevant to job lifecycle transitions. They mirror the
// non-initial states one-to-one; nothing is emitted for the initialized
// state since admission itself causes the first real transition.
const (
	EventTypeJobScheduled   events.EventType = "JobScheduled"
	EventTypeJobRunning     events.EventType = "JobRunning"
	EventTypeJobCompleted   events.EventType = "JobCompleted"
	EventTypeJobCanceled    events.EventType = "JobCanceled"
	EventTypeJobInterrupted events.EventType = "JobInterrupted"
)

// EventTypeForState maps a lifecycle state to its event type. The bool is
// false for states that produce no event.
func EventTypeForState(s State) (events.EventType, bool) {
	switch s {
	case StateScheduled:
		return EventTypeJobScheduled, true
	case StateRunning:
		return EventTypeJobRunning, true
	case StateCompleted:
		return EventTypeJobCompleted, true
	case StateCanceled:
		return EventTypeJobCanceled, true
	case StateInterrupted:
		return EventTypeJobInterrupted, true
	default:
		return "", false
	}
}

// StateChangedEvent signals that a job moved to a new lifecycle state. It
// carries the job's identity, the new state, and the current status message.
type StateChangedEvent struct {
	occurredAt time.Time

	JobID   int64  `json:"jobId"`
	Key     string `json:"key"`
	State   State  `json:"state"`
	Message string `json:"message"`
}

// NewStateChangedEvent creates a state changed event from a transition
// snapshot.
func NewStateChangedEvent(t Transition) StateChangedEvent {
	return StateChangedEvent{
		occurredAt: t.At,
		JobID:      t.JobID,
		Key:        t.Key,
		State:      t.State,
		Message:    t.Message,
	}
}

func (e StateChangedEvent) EventType() events.EventType {
	et, _ := EventTypeForState(e.State)
	return et
}

func (e StateChangedEvent) OccurredAt() time.Time { return e.occurredAt }
