package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned when the task queue has no free slot
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// SafeGo runs fn in a goroutine with a timeout and panic recovery. Errors
// are logged, never returned.
//
//	async.SafeGo(ctx, logger, 10*time.Second, "push fan-out", func(ctx context.Context) error {
//	    return sender.Send(ctx, msg)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn Task) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

type namedTask struct {
	name string
	fn   Task
}

// WorkerPool runs submitted tasks on a fixed number of workers reading from a
// bounded queue. Each task gets its own timeout; panics are recovered.
type WorkerPool struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	queue  chan namedTask
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines. Tasks run under a context derived
// from ctx, not from the submitting request.
func NewWorkerPool(ctx context.Context, logger *observability.Logger, metrics *observability.Metrics,
	workers, queueSize int, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		queue:   make(chan namedTask, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Submit enqueues a task without blocking
func (p *WorkerPool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- namedTask{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx expires first the running tasks are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out: %w", ctx.Err())
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task namedTask) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				observability.LogPanic(p.logger, r, task.name)
				err = observability.PanicError(r)
			}
		}()
		err = task.fn(ctx)
	}()

	p.metrics.RecordBackgroundTask(err)
	if err != nil {
		p.logger.WithError(err).WithField("task", task.name).Error("Background task failed")
	}
}
