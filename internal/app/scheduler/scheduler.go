// Package scheduler admits jobs under a monotonic id sequence, routes them to
// named worker pools, and fans their lifecycle transitions out to the event
// publisher. The scheduler owns the registry and the id counter; each job owns
// its own state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ocrforge/procdispatch/internal/domain/events"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/internal/infra/pool"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/common/otel"
)

// ErrJobNotFound is returned when an operation names a job id the scheduler
// has never issued or has already purged.
var ErrJobNotFound = errors.New("scheduler: job not found")

// ErrStopped is returned when a job is submitted after shutdown began.
var ErrStopped = errors.New("scheduler: stopped")

// defaultNotifyBuffer sizes the transition fan-out channel. Publishing is
// best effort: transitions beyond the buffer are dropped with a warning
// rather than blocking a state change.
const defaultNotifyBuffer = 256

// Config holds the scheduler's dependencies.
type Config struct {
	// Pools maps pool affinity to the pool serving it. A pool for
	// job.PoolCore is required; unknown affinities fall back to it.
	Pools map[job.Pool]*pool.Pool

	// Publisher receives one domain event per job state transition. Nil
	// disables publishing; transitions are still drained.
	Publisher events.DomainEventPublisher

	Log *logger.Logger

	// NotifyBuffer overrides the transition channel capacity. Zero means
	// the default.
	NotifyBuffer int
}

// Scheduler is the single authority over job admission, lookup, cancellation,
// and purging.
type Scheduler struct {
	log       *logger.Logger
	pools     map[job.Pool]*pool.Pool
	publisher events.DomainEventPublisher
	started   time.Time

	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]*job.Job
	stopped bool

	notifyCh  chan job.Transition
	drainDone chan struct{}
}

// New creates a scheduler over the given pools and starts the transition
// drain goroutine.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Pools[job.PoolCore] == nil {
		return nil, fmt.Errorf("scheduler: a %q pool is required", job.PoolCore)
	}

	buffer := cfg.NotifyBuffer
	if buffer <= 0 {
		buffer = defaultNotifyBuffer
	}

	s := &Scheduler{
		log:       cfg.Log.With("component", "scheduler"),
		pools:     cfg.Pools,
		publisher: cfg.Publisher,
		started:   time.Now(),
		jobs:      make(map[int64]*job.Job),
		notifyCh:  make(chan job.Transition, buffer),
		drainDone: make(chan struct{}),
	}

	go s.drain()

	return s, nil
}

// StartedAt returns when the scheduler was created.
func (s *Scheduler) StartedAt() time.Time { return s.started }

// Submit admits the job, assigns it the next id, and hands it to its pool.
// Submitting a job that is already under scheduler control is a no-op that
// returns the existing id and current state. Ids are assigned in submission
// order and never reused.
func (s *Scheduler) Submit(ctx context.Context, j *job.Job) (int64, job.State, error) {
	ctx, span := otel.AddSpan(ctx, "scheduler.submit",
		attribute.String("job_key", j.Key()),
		attribute.String("pool", string(j.PoolAffinity())))
	defer span.End()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, j.State(), ErrStopped
	}

	id := s.nextID + 1
	if !j.Admit(id, s.notify) {
		s.mu.Unlock()
		return j.ID(), j.State(), nil
	}
	s.nextID = id
	s.jobs[id] = j
	s.mu.Unlock()

	p := s.pools[j.PoolAffinity()]
	if p == nil {
		p = s.pools[job.PoolCore]
	}

	if !p.Submit(func(runCtx context.Context) { j.Run(runCtx) }) {
		// The pool stopped between the shutdown check and the handoff.
		j.Cancel()
		s.log.Warn(ctx, "job canceled, pool no longer accepting work", "job_id", id, "pool", p.Name())
		return id, j.State(), nil
	}

	s.log.Info(ctx, "job scheduled", "job_id", id, "job_key", j.Key(), "pool", p.Name())

	return id, j.State(), nil
}

// Job returns the job registered under the given id.
func (s *Scheduler) Job(id int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	return j, nil
}

// Cancel cancels the job registered under the given id and returns the
// resulting state. Canceling an already-done job is a no-op that returns its
// terminal state.
func (s *Scheduler) Cancel(ctx context.Context, id int64) (job.State, error) {
	ctx, span := otel.AddSpan(ctx, "scheduler.cancel", attribute.Int64("job_id", id))
	defer span.End()

	j, err := s.Job(id)
	if err != nil {
		return "", err
	}

	state := j.Cancel()
	s.log.Info(ctx, "job cancel requested", "job_id", id, "state", state)

	return state, nil
}

// Purge removes every done job from the registry and returns how many were
// removed. Jobs still scheduled or running are untouched.
func (s *Scheduler) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.Done() {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// PurgeBefore removes done jobs whose terminal timestamp is before the
// cutoff and returns how many were removed.
func (s *Scheduler) PurgeBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		ended, ok := j.EndedAt()
		if ok && ended.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// PurgeJob removes a single done job from the registry. It reports false if
// the job does not exist or is not done yet.
func (s *Scheduler) PurgeJob(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !j.Done() {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Snapshot returns the registered jobs in id order. Intended for status
// surfaces; the jobs themselves stay live.
func (s *Scheduler) Snapshot() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*job.Job, 0, len(s.jobs))
	for id := int64(1); id <= s.nextID; id++ {
		if j, ok := s.jobs[id]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Shutdown stops admission, cancels every job that is not done, and stops the
// pools, waiting for in-flight work until the context expires. The transition
// drain runs until the pools are down so terminal events still go out.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	live := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		live = append(live, j)
	}
	s.mu.Unlock()

	canceled := 0
	for _, j := range live {
		if !j.Done() {
			j.Cancel()
			canceled++
		}
	}
	if canceled > 0 {
		s.log.Info(ctx, "canceled jobs for shutdown", "count", canceled)
	}

	var g errgroup.Group
	for _, p := range s.pools {
		g.Go(func() error { return p.Stop(ctx) })
	}
	err := g.Wait()

	close(s.notifyCh)
	<-s.drainDone

	return err
}

// notify is the per-job transition hook. It runs while the job's lock is
// held, so it only hands the snapshot to the drain goroutine.
func (s *Scheduler) notify(t job.Transition) {
	select {
	case s.notifyCh <- t:
	default:
		s.log.Warn(context.Background(), "transition dropped, notify buffer full",
			"job_id", t.JobID, "state", t.State)
	}
}

// drain publishes transitions in arrival order on a single goroutine, which
// preserves per-job event ordering without holding any job lock during I/O.
func (s *Scheduler) drain() {
	defer close(s.drainDone)

	for t := range s.notifyCh {
		if s.publisher == nil {
			continue
		}

		ctx := context.Background()
		evt := job.NewStateChangedEvent(t)
		if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(t.Key)); err != nil {
			s.log.Error(ctx, "publishing job transition", "job_id", t.JobID, "state", t.State, "err", err)
		}
	}
}
