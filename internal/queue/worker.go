package queue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

// TaskHandler executes one task. It must not block past ctx cancellation.
type TaskHandler func(ctx context.Context, task Task)

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	tasks       chan Task
	workerCount int
	handle      TaskHandler
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount, queueSize int, handle TaskHandler, logger *slog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		tasks:       make(chan Task, queueSize),
		workerCount: workerCount,
		handle:      handle,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Start launches the workers. Tasks submitted before Start wait in the queue.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.stopped {
		return
	}
	wp.started = true
	ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.Info("starting worker pool", "workers", wp.workerCount, "queue_size", cap(wp.tasks))
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// TrySubmit enqueues task without blocking. A full queue yields
// types.ErrQueueFull.
func (wp *WorkerPool) TrySubmit(task Task) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.tasks <- task:
		wp.logger.Debug("task enqueued", "job_id", task.JobID, "kind", task.Kind, "queued", len(wp.tasks))
		return nil
	default:
		return types.ErrQueueFull
	}
}

// Pending reports how many tasks wait in the queue.
func (wp *WorkerPool) Pending() int {
	return len(wp.tasks)
}

// Stop cancels running tasks and waits for the workers to exit. Queued tasks
// are abandoned.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	if wp.cancel != nil {
		wp.cancel()
	}
	wp.mu.Unlock()
	wp.wg.Wait()
	wp.logger.Info("worker pool stopped", "abandoned", len(wp.tasks))
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	logger := wp.logger.With("worker", id)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-wp.tasks:
			wp.run(ctx, logger, task)
		}
	}
}

func (wp *WorkerPool) run(ctx context.Context, logger *slog.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic processing task",
				"job_id", task.JobID,
				"kind", task.Kind,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	logger.Info("processing task", "job_id", task.JobID, "kind", task.Kind, "waited", time.Since(task.EnqueuedAt).Round(time.Millisecond))
	wp.handle(ctx, task)
}
