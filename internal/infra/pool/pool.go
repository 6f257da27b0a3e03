// Package pool provides named, fixed-size worker pools. A pool owns no job
// state; it merely executes the closures the scheduler hands it. The intake
// queue is unbounded, matching the executor semantics the service replaces:
// queue-depth limits are a deployment tuning concern, not pool behavior.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

// Task is one unit of work executed by a pool worker. The context is the
// pool's run context and is canceled when the pool shuts down.
type Task func(ctx context.Context)

// Pool is a named set of worker goroutines draining a FIFO queue.
type Pool struct {
	name string
	size int
	log  *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool

	wg        sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates a pool with the given number of workers and starts them.
func New(name string, size int, log *logger.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool %q: size must be at least 1, got %d", name, size)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		name:      name,
		size:      size,
		log:       log.With("component", "pool", "pool", name),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	p.log.Info(context.Background(), "created worker pool", "size", size)

	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Submit enqueues a task without blocking. It reports false if the pool has
// been stopped.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.queue = append(p.queue, task)
	p.cond.Signal()

	return true
}

// Stop rejects further submissions, drops any tasks still waiting for a
// worker, and waits for in-flight tasks until the context expires, at which
// point the pool's run context is canceled to force them down.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	dropped := len(p.queue)
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if dropped > 0 {
		p.log.Info(ctx, "dropped queued tasks on shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelRun()
		return nil
	case <-ctx.Done():
		p.cancelRun()
		<-done
		return fmt.Errorf("pool %q: forced shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task(p.runCtx)
	}
}
