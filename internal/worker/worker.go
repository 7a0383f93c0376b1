// Package worker drains the task queue: each dequeued task is dispatched to
// the ingest or maintenance service, acknowledged on success and returned
// for delayed retry on transient failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driving"
	"github.com/lectern-ai/lectern-core/internal/metrics"
)

// Worker processes background tasks from the task queue.
type Worker struct {
	queue       driven.TaskQueue
	ingest      driving.IngestService
	maintenance driving.MaintenanceService
	logger      *slog.Logger
	metrics     *metrics.Collector

	concurrency    int
	dequeueTimeout int // seconds

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds the worker's collaborators and tuning.
type Config struct {
	Queue       driven.TaskQueue
	Ingest      driving.IngestService
	Maintenance driving.MaintenanceService
	Logger      *slog.Logger
	Metrics     *metrics.Collector

	// Concurrency is the number of parallel task processors.
	Concurrency int

	// DequeueTimeout is how many seconds a processor waits for a task
	// before checking for shutdown.
	DequeueTimeout int
}

// New creates a task worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		queue:          cfg.Queue,
		ingest:         cfg.Ingest,
		maintenance:    cfg.Maintenance,
		logger:         logger.With("component", "worker"),
		metrics:        cfg.Metrics,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start launches the processor goroutines. It returns immediately; use Stop
// or context cancellation to end processing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop signals the processors and waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main loop of one processor goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.queue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			time.Sleep(time.Second) // back off on queue errors
			continue
		}
		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask dispatches one task and settles it with the queue. Transient
// failures are nacked for delayed retry; permanent failures are acked
// because retrying cannot fix them and the document row already carries the
// failure state.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "org_id", task.OrgID)
	logger.Info("processing task")

	start := time.Now()
	err := w.dispatch(ctx, task)
	duration := time.Since(start)

	if err == nil {
		logger.Info("task completed", "duration", duration)
		w.countTask(task.Type, "completed")
		if ackErr := w.queue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack task", "error", ackErr)
		}
		return
	}

	if domain.Permanent(err) {
		logger.Error("task failed permanently", "duration", duration, "error", err)
		w.countTask(task.Type, "failed")
		if ackErr := w.queue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack failed task", "error", ackErr)
		}
		return
	}

	logger.Warn("task failed, scheduling retry", "duration", duration, "error", err)
	w.countTask(task.Type, "retried")
	if nackErr := w.queue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
		logger.Error("failed to nack task", "error", nackErr)
	}
}

// dispatch routes a task to its handler.
func (w *Worker) dispatch(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTypeIngestDocument:
		return w.handleIngest(ctx, task)
	case domain.TaskTypeDeleteDocument:
		return w.handleDelete(ctx, task)
	case domain.TaskTypeSweepCourse:
		return w.handleSweep(ctx, task)
	case domain.TaskTypeExportStats:
		return w.maintenance.ExportStats(ctx)
	default:
		return fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, task.Type)
	}
}

// handleIngest runs the indexing pipeline for one document.
func (w *Worker) handleIngest(ctx context.Context, task *domain.Task) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return fmt.Errorf("%w: document_id missing from task payload", domain.ErrValidation)
	}
	return w.ingest.Index(ctx, documentID)
}

// handleDelete removes one document and settles its references.
func (w *Worker) handleDelete(ctx context.Context, task *domain.Task) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return fmt.Errorf("%w: document_id missing from task payload", domain.ErrValidation)
	}
	_, err := w.ingest.Delete(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		// A redelivered delete finds the document gone; the work is done.
		return nil
	}
	return err
}

// handleSweep invalidates a course's caches and re-enqueues stuck documents.
func (w *Worker) handleSweep(ctx context.Context, task *domain.Task) error {
	courseID := task.CourseID()
	if courseID == "" {
		return fmt.Errorf("%w: course_id missing from task payload", domain.ErrValidation)
	}
	return w.maintenance.SweepCourse(ctx, task.OrgID, courseID)
}

func (w *Worker) countTask(taskType domain.TaskType, outcome string) {
	if w.metrics == nil {
		return
	}
	w.metrics.TasksProcessed.WithLabelValues(string(taskType), outcome).Inc()
}

// Health reports the worker and queue condition.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}
	if err := w.queue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
