package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewQueue(db), mock
}

func taskRows(tasks ...*domain.Task) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "type", "org_id", "payload", "status", "priority",
		"attempts", "max_attempts", "error", "created_at", "updated_at",
		"started_at", "completed_at", "scheduled_for",
	})
	for _, task := range tasks {
		payload, _ := json.Marshal(task.Payload)
		var startedAt, completedAt any
		if task.StartedAt != nil {
			startedAt = *task.StartedAt
		}
		if task.CompletedAt != nil {
			completedAt = *task.CompletedAt
		}
		rows.AddRow(
			task.ID, string(task.Type), task.OrgID, payload, string(task.Status),
			task.Priority, task.Attempts, task.MaxAttempts, task.Error,
			task.CreatedAt, task.UpdatedAt, startedAt, completedAt, task.ScheduledFor,
		)
	}
	return rows
}

func TestEnqueueInsertsPendingRow(t *testing.T) {
	queue, mock := newMockQueue(t)
	task := domain.NewIngestTask("org-1", "doc-1")
	payload, _ := json.Marshal(task.Payload)

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(
			task.ID, string(task.Type), task.OrgID, payload, string(task.Status),
			task.Priority, task.Attempts, task.MaxAttempts, task.Error,
			task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := queue.Enqueue(context.Background(), task)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBatchUsesOneTransaction(t *testing.T) {
	queue, mock := newMockQueue(t)
	tasks := []*domain.Task{
		domain.NewIngestTask("org-1", "doc-1"),
		domain.NewIngestTask("org-1", "doc-2"),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := queue.EnqueueBatch(context.Background(), tasks)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueClaimsPendingTask(t *testing.T) {
	queue, mock := newMockQueue(t)
	task := domain.NewIngestTask("org-1", "doc-1")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(string(domain.TaskStatusPending)).
		WillReturnRows(taskRows(task))
	mock.ExpectExec("attempts = attempts").
		WithArgs(string(domain.TaskStatusProcessing), sqlmock.AnyArg(), sqlmock.AnyArg(), task.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, "doc-1", got.DocumentID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(string(domain.TaskStatusPending)).
		WillReturnRows(taskRows())
	mock.ExpectRollback()

	got, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAckCompletesTask(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectExec("completed_at").
		WithArgs(string(domain.TaskStatusCompleted), sqlmock.AnyArg(), sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := queue.Ack(context.Background(), "task-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAckNotFound(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectExec("completed_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := queue.Ack(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNackSchedulesRetry(t *testing.T) {
	queue, mock := newMockQueue(t)

	task := domain.NewIngestTask("org-1", "doc-1")
	task.Status = domain.TaskStatusProcessing
	task.Attempts = 1

	mock.ExpectQuery("WHERE id").
		WithArgs(task.ID).
		WillReturnRows(taskRows(task))
	mock.ExpectExec("scheduled_for").
		WithArgs(string(domain.TaskStatusPending), "provider unavailable", sqlmock.AnyArg(), sqlmock.AnyArg(), task.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := queue.Nack(context.Background(), task.ID, "provider unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNackExhaustsRetries(t *testing.T) {
	queue, mock := newMockQueue(t)

	task := domain.NewIngestTask("org-1", "doc-1")
	task.Status = domain.TaskStatusProcessing
	task.Attempts = task.MaxAttempts

	mock.ExpectQuery("WHERE id").
		WithArgs(task.ID).
		WillReturnRows(taskRows(task))
	mock.ExpectExec("SET status").
		WithArgs(string(domain.TaskStatusFailed), "provider unavailable", sqlmock.AnyArg(), task.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := queue.Nack(context.Background(), task.ID, "provider unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectQuery("WHERE id").
		WithArgs("missing").
		WillReturnRows(taskRows())

	_, err := queue.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPendingTask(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectExec("error = 'cancelled'").
		WithArgs(string(domain.TaskStatusFailed), sqlmock.AnyArg(), "task-1", string(domain.TaskStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := queue.CancelTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelProcessingTaskConflicts(t *testing.T) {
	queue, mock := newMockQueue(t)

	// The WHERE clause only matches pending rows, so a claimed task
	// updates nothing.
	mock.ExpectExec("error = 'cancelled'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := queue.CancelTask(context.Background(), "task-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksAppliesFilters(t *testing.T) {
	queue, mock := newMockQueue(t)
	task := domain.NewIngestTask("org-1", "doc-1")

	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs("org-1", string(domain.TaskStatusPending), 5).
		WillReturnRows(taskRows(task))

	tasks, err := queue.ListTasks(context.Background(), driven.TaskFilter{
		OrgID:  "org-1",
		Status: domain.TaskStatusPending,
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, "org-1", tasks[0].OrgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeTasksReportsDeleted(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectExec("DELETE FROM tasks").
		WithArgs(string(domain.TaskStatusCompleted), string(domain.TaskStatusFailed), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	purged, err := queue.PurgeTasks(context.Background(), 3600)
	require.NoError(t, err)
	assert.Equal(t, 7, purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsCountsByStatus(t *testing.T) {
	queue, mock := newMockQueue(t)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("processing", 1).
			AddRow("failed", 2))
	mock.ExpectQuery("EXTRACT").
		WithArgs(string(domain.TaskStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"age"}).AddRow(42))

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.PendingCount)
	assert.Equal(t, int64(1), stats.ProcessingCount)
	assert.Equal(t, int64(2), stats.FailedCount)
	assert.Equal(t, int64(0), stats.CompletedCount)
	assert.Equal(t, int64(42), stats.OldestPendingAge)
	assert.NoError(t, mock.ExpectationsWereMet())
}
