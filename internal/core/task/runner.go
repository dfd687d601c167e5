package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dialverse/call-gateway/pkg/logger"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the runner's backlog is saturated. Webhook
// handling treats it as a logged drop, never as a failed acknowledgment.
var ErrQueueFull = errors.New("task queue full")

// ErrShutdown is returned for submissions after Shutdown, such as a timer
// callback firing during teardown.
var ErrShutdown = errors.New("task runner shut down")

type job struct {
	name string
	fn   func(context.Context)
}

// Runner executes webhook follow-up work (provider actions, asset downloads,
// lifecycle publishes) on a bounded worker pool so a slow downstream cannot
// stall webhook acknowledgment.
type Runner struct {
	queue   chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewRunner starts a pool of workers draining a bounded queue. Each job gets
// its own context bounded by timeout.
func NewRunner(workers, queueSize int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:   make(chan job, queueSize),
		cancel:  cancel,
		timeout: timeout,
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work(ctx)
	}
	return r
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(ctx, j)
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Base().Error("Task panicked",
				zap.String("task", j.name),
				zap.Any("panic", rec),
			)
		}
	}()

	jobCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	j.fn(jobCtx)
}

// Submit enqueues a task. It never blocks: a saturated queue returns
// ErrQueueFull, a stopped runner ErrShutdown.
func (r *Runner) Submit(name string, fn func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		logger.Base().Warn("Dropping task, runner shut down", zap.String("task", name))
		return ErrShutdown
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return nil
	default:
		logger.Base().Warn("Dropping task, queue full", zap.String("task", name))
		return ErrQueueFull
	}
}

// Shutdown stops accepting work, waits for the workers to drain the backlog,
// then releases the root context.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}
