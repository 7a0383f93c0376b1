package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// TaskQueue carries the background work the worker drains: document
// indexing, deletions, course sweeps and stats exports. Backed by Redis
// Streams, with a Postgres table for deployments without Redis.
type TaskQueue interface {
	// Enqueue adds a task for the worker to pick up.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch adds several tasks at once; none are visible if any fail.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// Dequeue claims the next available task for this consumer, blocking
	// until one arrives or ctx ends. A claimed task is invisible to other
	// consumers until acked, nacked or reclaimed as stale.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout claims the next task, waiting up to timeout
	// seconds. Returns nil, nil when nothing arrived in time.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack settles a claimed task as done and removes it from the queue.
	Ack(ctx context.Context, taskID string) error

	// Nack returns a claimed task for delayed retry with the failure
	// reason recorded. A task out of retry budget moves to failed.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask looks up a task by ID for status reporting.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ListTasks returns tasks matching the filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask cancels a pending task. Tasks already claimed or settled
	// cannot be cancelled.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks removes settled tasks older than olderThan seconds and
	// reports how many went.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	// Stats reports queue depth per state.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks the queue backend.
	Ping(ctx context.Context) error

	// Close releases the consumer's resources.
	Close() error
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	// OrgID scopes the listing to one organisation (required).
	OrgID string

	// Status keeps only tasks in this state; empty means all.
	Status domain.TaskStatus

	// Type keeps only tasks of this type; empty means all.
	Type domain.TaskType

	// Limit caps the result size.
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// QueueStats is the queue depth per state.
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest unclaimed task in seconds.
	OldestPendingAge int64 `json:"oldest_pending_age"`
}

// SchedulerStore persists the recurring duty schedules the maintenance loop
// polls. Schedules are configuration and outlive any queue entry they spawn.
type SchedulerStore interface {
	// GetScheduledTask looks up one schedule by ID.
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)

	// ListScheduledTasks returns an organisation's schedules.
	ListScheduledTasks(ctx context.Context, orgID string) ([]*domain.ScheduledTask, error)

	// SaveScheduledTask creates or updates a schedule.
	SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error

	// DeleteScheduledTask removes a schedule.
	DeleteScheduledTask(ctx context.Context, id string) error

	// GetDueScheduledTasks returns every schedule whose next run has passed.
	GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// UpdateLastRun records a run and advances the next run time.
	UpdateLastRun(ctx context.Context, id string, lastError string) error
}
