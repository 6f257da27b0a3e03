// Package job defines the schedulable unit of work and its lifecycle state
// machine. A Job owns its own state under a per-job lock; the scheduler's
// registry and id counter are synchronized separately so job transitions never
// contend on a global lock.
package job

import (
	"context"
	"sync"
	"time"
)

// Pool names a worker pool a job must run on. The affinity is fixed at
// construction; there is no cross-pool stealing or rebalancing.
type Pool string

const (
	// PoolCore is the pool for ordinary processor invocations.
	PoolCore Pool = "core"

	// PoolTimeConsuming is the pool for processors designated as
	// time-consuming by configuration.
	PoolTimeConsuming Pool = "tc"
)

// Result is the outcome an Executor reports for a finished execution. Any
// state other than StateCompleted is recorded as StateInterrupted.
type Result struct {
	State   State
	Message string
}

// Executor supplies the concrete work behind a job. Execute blocks the pool
// worker until the work ends; Kill requests that in-flight work stop without
// waiting for it to do so.
type Executor interface {
	Execute(ctx context.Context) Result
	Kill()
}

// ProcessDetails is implemented by executors backed by an external operating
// system process, exposing the captured output and exit code after the run.
type ProcessDetails interface {
	StandardOutput() string
	StandardError() string
	ExitValue() int
}

// Transition is the snapshot handed to the scheduler's notification hook on
// every state change.
type Transition struct {
	JobID   int64
	Key     string
	State   State
	Message string
	At      time.Time
}

// TransitionFunc observes job state transitions. It is invoked while the
// job's lock is held to preserve per-job ordering, so implementations must be
// fast, must not block, and must not call back into the job.
type TransitionFunc func(t Transition)

// Job is one schedulable, cancellable unit of asynchronous work. Its id is 0
// exactly until the scheduler admits it; after admission the id is positive
// and never changes.
type Job struct {
	mu sync.Mutex

	id          int64
	key         string
	description string
	pool        Pool
	state       State
	message     string
	timeline    *Timeline
	exec        Executor
	notify      TransitionFunc
}

// New creates a job in the initialized state. The key correlates the job to
// external context and need not be unique; the pool affinity and description
// are immutable afterwards.
func New(key, description string, pool Pool, exec Executor) *Job {
	return newJob(key, description, pool, exec, new(realTimeProvider))
}

// NewWithTimeProvider creates a job with a caller-supplied clock. Intended
// for tests.
func NewWithTimeProvider(key, description string, pool Pool, exec Executor, tp TimeProvider) *Job {
	return newJob(key, description, pool, exec, tp)
}

func newJob(key, description string, pool Pool, exec Executor, tp TimeProvider) *Job {
	return &Job{
		key:         key,
		description: description,
		pool:        pool,
		state:       StateInitialized,
		timeline:    NewTimeline(tp),
		exec:        exec,
	}
}

// ID returns the scheduler-assigned id. 0 means the job is not under
// scheduler control.
func (j *Job) ID() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// Key returns the caller-supplied correlation key.
func (j *Job) Key() string { return j.key }

// Description returns the human-readable description.
func (j *Job) Description() string { return j.description }

// PoolAffinity returns the pool the job must run on.
func (j *Job) PoolAffinity() Pool { return j.pool }

// Executor returns the executor supplying the job's work.
func (j *Job) Executor() Executor { return j.exec }

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Message returns the last status message, defaulting to the state name when
// the execution logic has not set one.
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.messageLocked()
}

func (j *Job) messageLocked() string {
	if j.message == "" {
		return j.state.String()
	}
	return j.message
}

// CreatedAt returns the construction time.
func (j *Job) CreatedAt() time.Time { return j.timeline.CreatedAt() }

// StartedAt returns the execution start time. The bool is false until the
// job has reached running.
func (j *Job) StartedAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.timeline.StartedAt()
	return t, !t.IsZero()
}

// EndedAt returns the terminal time. The bool is false until the job is done.
func (j *Job) EndedAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.timeline.EndedAt()
	return t, !t.IsZero()
}

// Done reports whether the job has reached a terminal state.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.IsTerminal()
}

// UnderSchedulerControl reports whether the job has been admitted by the
// scheduler. It holds exactly when the state has left initialized.
func (j *Job) UnderSchedulerControl() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state != StateInitialized
}

// Admit places the job under scheduler control: the id is assigned exactly
// once and the state moves to scheduled. It reports false if the job was
// already admitted or the id is not positive. Only the scheduler calls this.
func (j *Job) Admit(id int64, notify TransitionFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateInitialized || id <= 0 {
		return false
	}

	j.id = id
	j.state = StateScheduled
	j.notify = notify
	j.emitLocked()

	return true
}

// Run executes the job on the calling goroutine, which is expected to be a
// pool worker. If the job was canceled while queued, Run returns without
// executing. Execution failures are absorbed into the interrupted state and
// never propagate to the caller.
func (j *Job) Run(ctx context.Context) {
	if !j.markRunning() {
		return
	}

	res := j.exec.Execute(ctx)

	j.finish(res)
}

func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateScheduled {
		return false
	}

	j.state = StateRunning
	j.timeline.MarkStarted()
	j.emitLocked()

	return true
}

// finish records the natural outcome of execute. If cancellation already
// reached the state field, the natural outcome is discarded: whichever of
// {natural completion, cancellation} wins the race is final.
func (j *Job) finish(res Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateCanceled {
		return
	}

	j.state = StateInterrupted
	if res.State == StateCompleted {
		j.state = StateCompleted
	}
	j.message = res.Message
	j.timeline.MarkEnded()
	j.emitLocked()
}

// Cancel moves a scheduled or running job to canceled and returns the
// resulting state. The terminal state is set before the kill request so a
// racing natural completion is resolved in favor of canceled. The kill is
// dispatched on its own goroutine; Cancel never waits for the underlying work
// to actually stop. Canceling a job that is initialized or already done is a
// no-op returning the unchanged state.
func (j *Job) Cancel() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case StateScheduled, StateRunning:
		wasRunning := j.state == StateRunning

		j.state = StateCanceled
		j.timeline.MarkEnded()
		j.emitLocked()

		if wasRunning {
			go j.exec.Kill()
		}
	}

	return j.state
}

func (j *Job) emitLocked() {
	if j.notify == nil {
		return
	}

	j.notify(Transition{
		JobID:   j.id,
		Key:     j.key,
		State:   j.state,
		Message: j.messageLocked(),
		At:      time.Now(),
	})
}
