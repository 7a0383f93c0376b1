// Package redis implements the task queue on Redis Streams: a consumer
// group over one stream, a sorted set for delayed retries, and a JSON key
// per task carrying its full state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

const (
	taskStream     = "lectern:tasks"
	taskGroup      = "lectern:workers"
	scheduledTasks = "lectern:scheduled"
	taskKeyPrefix  = "lectern:task:"

	// taskTTL bounds how long settled task records linger for status
	// lookups before Redis drops them.
	taskTTL = 24 * time.Hour

	// claimTimeout is how long a claimed task may sit idle before another
	// consumer steals it from a crashed worker.
	claimTimeout = 5 * time.Minute
)

var _ driven.TaskQueue = (*Queue)(nil)

// Queue is a Redis Streams task queue. Stream messages carry only routing
// fields; the task body lives under its own key so retries and status
// updates rewrite one value instead of the stream.
type Queue struct {
	client   *redis.Client
	consumer string
}

// NewQueue creates the queue and its consumer group. The consumer name must
// be unique per worker instance, typically hostname plus PID.
func NewQueue(client *redis.Client, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}

	q := &Queue{client: client, consumer: consumerName}

	err := q.client.XGroupCreateMkStream(context.Background(), taskStream, taskGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return q, nil
}

func taskKey(taskID string) string { return taskKeyPrefix + taskID }
func msgKey(taskID string) string  { return taskKeyPrefix + taskID + ":msg" }

// streamEntry is the compact routing record added to the stream.
func streamEntry(task *domain.Task) map[string]interface{} {
	return map[string]interface{}{
		"task_id":  task.ID,
		"type":     string(task.Type),
		"org_id":   task.OrgID,
		"priority": task.Priority,
	}
}

// saveTask writes the task body through the given pipeliner.
func saveTask(ctx context.Context, pipe redis.Cmdable, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	return nil
}

// routeTask sends a task to the stream, or parks it in the scheduled set
// when its run time is still ahead.
func routeTask(ctx context.Context, pipe redis.Cmdable, task *domain.Task, now time.Time) {
	if task.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
		return
	}
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: taskStream, Values: streamEntry(task)})
}

// Enqueue adds one task.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	pipe := q.client.Pipeline()
	if err := saveTask(ctx, pipe, task); err != nil {
		return err
	}
	routeTask(ctx, pipe, task, time.Now())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// EnqueueBatch adds several tasks in one pipeline; nothing lands if the
// pipeline fails.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	now := time.Now()
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := saveTask(ctx, pipe, task); err != nil {
			return err
		}
		routeTask(ctx, pipe, task, now)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return nil
}

// Dequeue blocks until a task arrives or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout claims the next task, waiting up to timeout seconds.
// Due delayed tasks are promoted first, then stale claims of crashed
// consumers are stolen, then the stream is read.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	// Promotion is best effort; a miss is retried on the next dequeue.
	_ = q.promoteDue(ctx)

	if task, err := q.claimStale(ctx); err == nil && task != nil {
		return task, nil
	}

	block := time.Duration(timeout) * time.Second

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumer,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		// Body expired before anyone claimed it; drop the routing record.
		q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task data: %w", err)
	}

	return q.markClaimed(ctx, task, msg.ID)
}

// markClaimed records the claim: processing status plus the stream message
// ID that a later ack or nack must settle.
func (q *Queue) markClaimed(ctx context.Context, task *domain.Task, msgID string) (*domain.Task, error) {
	task.MarkProcessing()
	data, _ := json.Marshal(task)
	q.client.Set(ctx, taskKey(task.ID), data, taskTTL)
	q.client.Set(ctx, msgKey(task.ID), msgID, taskTTL)
	return task, nil
}

// Ack settles a task as completed and removes its stream message.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	msgID, err := q.client.Get(ctx, msgKey(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	pipe := q.client.Pipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}
	if task, err := q.GetTask(ctx, taskID); err == nil {
		task.MarkCompleted()
		_ = saveTask(ctx, pipe, task)
	}
	pipe.Del(ctx, msgKey(taskID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Nack settles a failed attempt. Within the retry budget the task goes to
// the scheduled set with its backoff; past it the task is marked failed.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	msgID, _ := q.client.Get(ctx, msgKey(taskID)).Result()

	pipe := q.client.Pipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}

	if task.CanRetry() {
		task.Retry(reason)
		if err := saveTask(ctx, pipe, task); err != nil {
			return err
		}
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		task.MarkFailed(reason)
		if err := saveTask(ctx, pipe, task); err != nil {
			return err
		}
	}
	pipe.Del(ctx, msgKey(taskID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack task: %w", err)
	}
	return nil
}

// GetTask looks up a task body by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// forEachTask walks every stored task body via SCAN. O(keys); the listing
// and purge paths accept that, the hot paths never come here.
func (q *Queue) forEachTask(ctx context.Context, fn func(task *domain.Task) bool) error {
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, taskKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan tasks: %w", err)
		}

		for _, key := range keys {
			if strings.HasSuffix(key, ":msg") {
				continue
			}
			data, err := q.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var task domain.Task
			if json.Unmarshal([]byte(data), &task) != nil {
				continue
			}
			if !fn(&task) {
				return nil
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// ListTasks returns tasks matching the filter.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := q.forEachTask(ctx, func(task *domain.Task) bool {
		if filter.OrgID != "" && task.OrgID != filter.OrgID {
			return true
		}
		if filter.Status != "" && task.Status != filter.Status {
			return true
		}
		if filter.Type != "" && task.Type != filter.Type {
			return true
		}
		tasks = append(tasks, task)
		return filter.Limit <= 0 || len(tasks) < filter.Limit
	})
	if err != nil {
		return nil, err
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*domain.Task{}, nil
		}
		tasks = tasks[filter.Offset:]
	}
	return tasks, nil
}

// CancelTask cancels a task that has not been claimed yet.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("cannot cancel task in state %s: %w", task.Status, domain.ErrConflict)
	}

	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, scheduledTasks, taskID)

	task.Status = domain.TaskStatusFailed
	task.Error = "cancelled"
	task.UpdatedAt = time.Now()
	if err := saveTask(ctx, pipe, task); err != nil {
		return err
	}

	_, err = pipe.Exec(ctx)
	return err
}

// PurgeTasks deletes settled task bodies older than olderThanSeconds.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var purged int

	err := q.forEachTask(ctx, func(task *domain.Task) bool {
		settled := task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed
		if settled && task.UpdatedAt.Before(cutoff) {
			q.client.Del(ctx, taskKey(task.ID))
			purged++
		}
		return true
	})
	return purged, err
}

// Stats reports queue depth per state. The settled counts walk every task
// body, so this belongs on an ops surface, not a hot path.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	info, err := q.client.XInfoStream(ctx, taskStream).Result()
	switch {
	case err == nil:
		stats.PendingCount = int64(info.Length)
	case errors.Is(err, redis.Nil) || isStreamNotExistsError(err):
		// Nothing enqueued yet.
	default:
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	scheduled, err := q.client.ZCard(ctx, scheduledTasks).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get scheduled count: %w", err)
	}
	stats.PendingCount += scheduled

	if groups, err := q.client.XInfoGroups(ctx, taskStream).Result(); err == nil {
		for _, group := range groups {
			if group.Name == taskGroup {
				stats.ProcessingCount = int64(group.Pending)
				break
			}
		}
	}

	_ = q.forEachTask(ctx, func(task *domain.Task) bool {
		switch task.Status {
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
		return true
	})

	return stats, nil
}

// Ping checks the queue backend.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (q *Queue) Close() error {
	return nil
}

// promoteDue moves scheduled tasks whose time has come onto the stream.
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().Unix()),
	}).Result()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, taskID := range due {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			// Body gone; nothing left to run.
			pipe.ZRem(ctx, scheduledTasks, taskID)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: taskStream, Values: streamEntry(task)})
		pipe.ZRem(ctx, scheduledTasks, taskID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// claimStale steals a message another consumer claimed and then sat on past
// the claim timeout, so a crashed worker's tasks still complete.
func (q *Queue) claimStale(ctx context.Context) (*domain.Task, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: taskStream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   taskStream,
			Group:    taskGroup,
			Consumer: q.consumer,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		msg := claimed[0]
		taskID, ok := msg.Values["task_id"].(string)
		if !ok {
			q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
			q.client.XDel(ctx, taskStream, msg.ID)
			continue
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
			q.client.XDel(ctx, taskStream, msg.ID)
			continue
		}

		return q.markClaimed(ctx, task, msg.ID)
	}

	return nil, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isStreamNotExistsError(err error) bool {
	return err != nil && (err.Error() == "ERR no such key" ||
		err.Error() == "ERR The XINFO subcommand requires the key to exist")
}
