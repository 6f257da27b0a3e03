package job

import "time"

// TimeProvider is an interface that provides a Now method to get the current
// time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now() }

// Timeline tracks the temporal aspects of a job: when it was created, when a
// worker started it, and when it reached a terminal state.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance with the creation time set.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	return &Timeline{
		createdAt:    timeProvider.Now(),
		timeProvider: timeProvider,
	}
}

// CreatedAt returns the time the job was constructed.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns the time a worker started the job. Zero until then.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// EndedAt returns the time the job reached a terminal state. Zero until then.
func (t *Timeline) EndedAt() time.Time { return t.endedAt }

// MarkStarted records the execution start time.
func (t *Timeline) MarkStarted() { t.startedAt = t.timeProvider.Now() }

// MarkEnded records the terminal time.
func (t *Timeline) MarkEnded() { t.endedAt = t.timeProvider.Now() }
