package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradepulse/internal/config"
	"tradepulse/internal/infrastructure"
)

// Task is one unit of work for the calculation queue. Run receives a
// context carrying the per-task deadline and must observe it between
// expensive steps.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// CalcQueue runs calculation tasks with bounded concurrency. Tasks
// queue FIFO; each worker picks up the next task as soon as its
// current one completes, and every task runs under the configured
// calculation timeout.
type CalcQueue struct {
	tasks     chan Task
	workers   int
	timeout   time.Duration
	logger    *slog.Logger
	telemetry *infrastructure.Telemetry
	wg        sync.WaitGroup
	started   bool

	// onPanic, when set, is told about recovered task panics so the
	// owner can record them alongside its other failure events.
	onPanic func(task string, recovered any)
}

// NewCalcQueue builds a queue from the engine configuration.
func NewCalcQueue(cfg config.EngineConfig, logger *slog.Logger, tel *infrastructure.Telemetry) *CalcQueue {
	workers := cfg.MaxConcurrentCalculations
	if workers <= 0 {
		workers = 3
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 64
	}
	timeout := cfg.CalculationTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalcQueue{
		tasks:     make(chan Task, capacity),
		workers:   workers,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "calcqueue")),
		telemetry: tel,
	}
}

// Start launches the worker goroutines. Workers exit when ctx is
// cancelled or the queue is stopped.
func (q *CalcQueue) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true
	q.logger.Info("starting calculation queue",
		slog.Int("workers", q.workers),
		slog.Duration("task_timeout", q.timeout))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop closes the queue and waits for in-flight tasks to finish, up to
// timeout. Queued tasks still drain before workers exit.
func (q *CalcQueue) Stop(timeout time.Duration) error {
	close(q.tasks)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("calculation queue stopped")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("calculation queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for calculation workers")
	}
}

// Submit enqueues a task. It fails instead of blocking when the queue
// is at capacity, so a flood of invalidations cannot wedge callers.
func (q *CalcQueue) Submit(task Task) error {
	select {
	case q.tasks <- task:
		if q.telemetry != nil {
			q.telemetry.RecordQueueDelta(context.Background(), 1)
		}
		return nil
	default:
		return fmt.Errorf("calculation queue is full (capacity %d)", cap(q.tasks))
	}
}

// Depth reports the number of queued, not yet running tasks.
func (q *CalcQueue) Depth() int {
	return len(q.tasks)
}

func (q *CalcQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.With(slog.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if q.telemetry != nil {
				q.telemetry.RecordQueueDelta(ctx, -1)
			}
			q.runTask(ctx, logger, task)
		}
	}
}

func (q *CalcQueue) runTask(ctx context.Context, logger *slog.Logger, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()

	// A panicking task must not take the worker, and with it the
	// process, down. Custom filter predicates run inside tasks and are
	// caller-supplied code.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked",
				slog.String("task", task.Name),
				slog.Any("panic", r),
				slog.Duration("elapsed", time.Since(start)))
			if q.onPanic != nil {
				q.onPanic(task.Name, r)
			}
		}
	}()

	err := task.Run(taskCtx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		logger.Debug("task completed",
			slog.String("task", task.Name),
			slog.Duration("elapsed", elapsed))
	case taskCtx.Err() == context.DeadlineExceeded:
		if q.telemetry != nil {
			q.telemetry.RecordTimeout(ctx, task.Name)
		}
		logger.Error("task timed out",
			slog.String("task", task.Name),
			slog.Duration("elapsed", elapsed))
	default:
		logger.Error("task failed",
			slog.String("task", task.Name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	}
}
