// Package workerpool runs table sync tasks on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned for tasks submitted after Stop
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned when a task cannot be queued without blocking
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is one unit of work. Key names the table the task syncs and is used
// in logs only.
type Task struct {
	Key string
	Run func(context.Context) error

	done chan error
}

// WorkerPool executes tasks on at most MaxWorkers goroutines. Tasks run under
// a context that is cancelled when the pool stops.
type WorkerPool struct {
	name   string
	logger *zap.Logger

	maxWorkers int
	queue      chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopped  atomic.Bool

	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
}

// NewWorkerPool starts a worker pool
func NewWorkerPool(cfg Config, logger *zap.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:       cfg.Name,
		logger:     logger.With(zap.String("pool", cfg.Name)),
		maxWorkers: cfg.MaxWorkers,
		queue:      make(chan Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("max_workers", p.maxWorkers),
		zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.execute(id, task)
		}
	}
}

func (p *WorkerPool) execute(workerID int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeRun(task)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Task failed",
			zap.Int("worker_id", workerID),
			zap.String("key", task.Key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		p.completed.Add(1)
		p.logger.Debug("Task completed",
			zap.Int("worker_id", workerID),
			zap.String("key", task.Key),
			zap.Duration("duration", time.Since(start)))
	}
	if task.done != nil {
		task.done <- err
	}
}

func (p *WorkerPool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Key, r)
		}
	}()
	return task.Run(p.ctx)
}

// Submit queues a task without blocking
func (p *WorkerPool) Submit(task Task) error {
	if p.stopped.Load() {
		p.rejected.Add(1)
		return ErrStopped
	}
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Do queues a task, waiting for queue space, and returns the task's result
func (p *WorkerPool) Do(ctx context.Context, task Task) error {
	if p.stopped.Load() {
		p.rejected.Add(1)
		return ErrStopped
	}
	task.done = make(chan error, 1)

	select {
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	case <-p.ctx.Done():
		p.rejected.Add(1)
		return ErrStopped
	case p.queue <- task:
		p.submitted.Add(1)
	}

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrStopped
	}
}

// Stop cancels running tasks and waits up to timeout for workers to exit.
// Queued tasks are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("Worker pool stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q did not stop within %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timed out", zap.Duration("timeout", timeout))
		}
	})
	return err
}

// Stats is a point-in-time view of pool counters
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	SubmittedTasks uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// Stats returns current pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(p.active.Load()),
		QueueSize:      cap(p.queue),
		QueuedTasks:    len(p.queue),
		SubmittedTasks: p.submitted.Load(),
		CompletedTasks: p.completed.Load(),
		FailedTasks:    p.failed.Load(),
		RejectedTasks:  p.rejected.Load(),
	}
}

// QueueUtilization returns the queue fill as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return float64(s.QueuedTasks) / float64(s.QueueSize) * 100.0
}
