package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrforge/procdispatch/internal/domain/events"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/internal/infra/pool"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

type immediateExecutor struct {
	result job.Result
}

func (e *immediateExecutor) Execute(ctx context.Context) job.Result { return e.result }
func (e *immediateExecutor) Kill()                                  {}

// blockingExecutor parks in Execute until released.
type blockingExecutor struct {
	result  job.Result
	started chan struct{}
	release chan struct{}
}

func newBlockingExecutor(result job.Result) *blockingExecutor {
	return &blockingExecutor{
		result:  result,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *blockingExecutor) Execute(ctx context.Context) job.Result {
	close(e.started)
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return e.result
}

func (e *blockingExecutor) Kill() {
	select {
	case <-e.release:
	default:
		close(e.release)
	}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
	keys   []string
}

func (c *capturingPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.keys = append(c.keys, params.Key)
	return nil
}

func (c *capturingPublisher) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]events.EventType, len(c.events))
	for i, e := range c.events {
		types[i] = e.EventType()
	}
	return types
}

func newTestScheduler(t *testing.T, publisher events.DomainEventPublisher) *Scheduler {
	t.Helper()

	log := testLogger()
	core, err := pool.New("core", 2, log)
	require.NoError(t, err)
	tc, err := pool.New("tc", 1, log)
	require.NoError(t, err)

	s, err := New(Config{
		Pools: map[job.Pool]*pool.Pool{
			job.PoolCore:          core,
			job.PoolTimeConsuming: tc,
		},
		Publisher: publisher,
		Log:       log,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return s
}

func TestNew_RequiresCorePool(t *testing.T) {
	_, err := New(Config{Pools: map[job.Pool]*pool.Pool{}, Log: testLogger()})
	assert.Error(t, err)
}

func TestSubmit_AssignsConsecutiveIDs(t *testing.T) {
	s := newTestScheduler(t, nil)

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := job.New("wf", "job", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
			id, _, err := s.Submit(context.Background(), j)
			require.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		assert.GreaterOrEqual(t, id, int64(1))
		assert.LessOrEqual(t, id, int64(n))
		seen[id] = true
	}
	assert.Len(t, seen, n, "ids are consecutive with no gaps")
}

func TestSubmit_DuplicateIsNoop(t *testing.T) {
	s := newTestScheduler(t, nil)

	exec := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j := job.New("wf", "job", job.PoolCore, exec)

	id, state, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
	require.NotEqual(t, job.StateInitialized, state)

	again, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, id, again, "resubmission returns the existing id")

	// The duplicate must not have consumed an id.
	j2 := job.New("wf", "job2", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
	id2, _, err := s.Submit(context.Background(), j2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2)

	close(exec.release)
}

func TestSubmit_RoutesToTimeConsumingPool(t *testing.T) {
	s := newTestScheduler(t, nil)

	// The tc pool has one worker: with it occupied, a second tc job must
	// queue rather than borrow a core worker.
	first := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j1 := job.New("wf", "slow 1", job.PoolTimeConsuming, first)
	_, _, err := s.Submit(context.Background(), j1)
	require.NoError(t, err)
	<-first.started

	second := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j2 := job.New("wf", "slow 2", job.PoolTimeConsuming, second)
	_, _, err = s.Submit(context.Background(), j2)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, job.StateScheduled, j2.State(), "second tc job waits for the tc worker")

	close(first.release)
	close(second.release)
}

func TestSubmit_UnknownAffinityFallsBackToCore(t *testing.T) {
	s := newTestScheduler(t, nil)

	j := job.New("wf", "job", job.Pool("bogus"), &immediateExecutor{result: job.Result{State: job.StateCompleted}})
	_, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return j.Done() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, job.StateCompleted, j.State())
}

func TestSubmit_AfterShutdown(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.Shutdown(context.Background()))

	j := job.New("wf", "job", job.PoolCore, &immediateExecutor{})
	_, _, err := s.Submit(context.Background(), j)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, job.StateInitialized, j.State())
}

func TestCancel_NotFound(t *testing.T) {
	s := newTestScheduler(t, nil)

	_, err := s.Cancel(context.Background(), 99)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancel_RunningJob(t *testing.T) {
	s := newTestScheduler(t, nil)

	exec := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j := job.New("wf", "job", job.PoolCore, exec)

	id, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	<-exec.started

	state, err := s.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StateCanceled, state)

	assert.Eventually(t, func() bool { return j.Done() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, job.StateCanceled, j.State(), "kill-race resolution favors canceled")
}

func TestJob_Lookup(t *testing.T) {
	s := newTestScheduler(t, nil)

	j := job.New("wf", "job", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
	id, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)

	got, err := s.Job(id)
	require.NoError(t, err)
	assert.Same(t, j, got)
}

func TestPurge(t *testing.T) {
	s := newTestScheduler(t, nil)

	done := job.New("wf", "done", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
	doneID, _, err := s.Submit(context.Background(), done)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return done.Done() }, time.Second, 5*time.Millisecond)

	exec := newBlockingExecutor(job.Result{State: job.StateCompleted})
	live := job.New("wf", "live", job.PoolCore, exec)
	liveID, _, err := s.Submit(context.Background(), live)
	require.NoError(t, err)
	<-exec.started

	assert.Equal(t, 1, s.Purge(), "only the done job is purged")

	_, err = s.Job(doneID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Job(liveID)
	assert.NoError(t, err)

	close(exec.release)
}

func TestPurgeJob(t *testing.T) {
	s := newTestScheduler(t, nil)

	exec := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j := job.New("wf", "job", job.PoolCore, exec)
	id, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	<-exec.started

	assert.False(t, s.PurgeJob(id), "a running job cannot be purged")
	assert.False(t, s.PurgeJob(42), "unknown id")

	close(exec.release)
	require.Eventually(t, func() bool { return j.Done() }, time.Second, 5*time.Millisecond)

	assert.True(t, s.PurgeJob(id))
	_, err = s.Job(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPurgeBefore(t *testing.T) {
	s := newTestScheduler(t, nil)

	j := job.New("wf", "job", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
	id, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return j.Done() }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, s.PurgeBefore(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, s.PurgeBefore(time.Now().Add(time.Hour)))

	_, err = s.Job(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSnapshot_ReturnsJobsInIDOrder(t *testing.T) {
	s := newTestScheduler(t, nil)

	for i := 0; i < 3; i++ {
		j := job.New("wf", "job", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted}})
		_, _, err := s.Submit(context.Background(), j)
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	for i, j := range snap {
		assert.Equal(t, int64(i+1), j.ID())
	}
}

func TestTransitions_ArePublishedInOrder(t *testing.T) {
	pub := new(capturingPublisher)
	s := newTestScheduler(t, pub)

	j := job.New("wf-7", "job", job.PoolCore, &immediateExecutor{result: job.Result{State: job.StateCompleted, Message: "completed - exit value 0"}})
	_, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(pub.types()) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []events.EventType{
		job.EventTypeJobScheduled,
		job.EventTypeJobRunning,
		job.EventTypeJobCompleted,
	}, pub.types())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, key := range pub.keys {
		assert.Equal(t, "wf-7", key, "events are keyed by the job key")
	}
}

func TestShutdown_CancelsLiveJobs(t *testing.T) {
	s := newTestScheduler(t, nil)

	exec := newBlockingExecutor(job.Result{State: job.StateCompleted})
	j := job.New("wf", "job", job.PoolCore, exec)
	_, _, err := s.Submit(context.Background(), j)
	require.NoError(t, err)
	<-exec.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, job.StateCanceled, j.State())
}
