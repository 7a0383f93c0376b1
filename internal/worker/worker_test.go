package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven/mocks"
	"github.com/lectern-ai/lectern-core/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeIngest implements driving.IngestService with hook functions.
type fakeIngest struct {
	mu       sync.Mutex
	indexed  []string
	deleted  []string
	IndexFn  func(documentID string) error
	DeleteFn func(documentID string) (*domain.DeleteResult, error)
}

func (f *fakeIngest) Ingest(ctx context.Context, upload domain.Upload, tenant domain.Tenant) (*domain.IngestResult, error) {
	return nil, errors.New("not used by the worker")
}

func (f *fakeIngest) Index(ctx context.Context, documentID string) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, documentID)
	f.mu.Unlock()
	if f.IndexFn != nil {
		return f.IndexFn(documentID)
	}
	return nil
}

func (f *fakeIngest) Delete(ctx context.Context, documentID string) (*domain.DeleteResult, error) {
	f.mu.Lock()
	f.deleted = append(f.deleted, documentID)
	f.mu.Unlock()
	if f.DeleteFn != nil {
		return f.DeleteFn(documentID)
	}
	return &domain.DeleteResult{}, nil
}

func (f *fakeIngest) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeIngest) indexedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func (f *fakeIngest) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeMaintenance implements driving.MaintenanceService with hook functions.
type fakeMaintenance struct {
	mu      sync.Mutex
	exports int
	sweeps  []string
	SweepFn func(orgID, courseID string) error
}

func (f *fakeMaintenance) Start(ctx context.Context) error { return nil }
func (f *fakeMaintenance) Stop(ctx context.Context) error  { return nil }

func (f *fakeMaintenance) ExportStats(ctx context.Context) error {
	f.mu.Lock()
	f.exports++
	f.mu.Unlock()
	return nil
}

func (f *fakeMaintenance) SweepCourse(ctx context.Context, orgID, courseID string) error {
	f.mu.Lock()
	f.sweeps = append(f.sweeps, orgID+"/"+courseID)
	f.mu.Unlock()
	if f.SweepFn != nil {
		return f.SweepFn(orgID, courseID)
	}
	return nil
}

func (f *fakeMaintenance) exportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exports
}

func (f *fakeMaintenance) sweepKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sweeps...)
}

func newTestWorker(queue *mocks.MockTaskQueue, ingest *fakeIngest, maintenance *fakeMaintenance) *Worker {
	return New(Config{
		Queue:       queue,
		Ingest:      ingest,
		Maintenance: maintenance,
		Logger:      slog.Default(),
		Metrics:     metrics.NewCollector(prometheus.NewRegistry()),
		Concurrency: 1,
	})
}

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestWorkerProcessesIngestTask(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{}
	maintenance := &fakeMaintenance{}

	if err := queue.Enqueue(context.Background(), domain.NewIngestTask("org-1", "doc-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, maintenance)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	ids := ingest.indexedIDs()
	if len(ids) != 1 || ids[0] != "doc-1" {
		t.Errorf("expected doc-1 indexed, got %v", ids)
	}
	if queue.Nacked != 0 {
		t.Errorf("expected no nacks, got %d", queue.Nacked)
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{
		IndexFn: func(string) error {
			return fmt.Errorf("provider down: %w", domain.ErrExternal)
		},
	}

	if err := queue.Enqueue(context.Background(), domain.NewIngestTask("org-1", "doc-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Nacked >= 1 })

	if queue.Acked != 0 {
		t.Errorf("transient failure must not ack, got %d acks", queue.Acked)
	}
}

func TestWorkerAcksPermanentFailure(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{
		IndexFn: func(string) error {
			return fmt.Errorf("document is removed: %w", domain.ErrValidation)
		},
	}

	if err := queue.Enqueue(context.Background(), domain.NewIngestTask("org-1", "doc-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	if queue.Nacked != 0 {
		t.Errorf("permanent failure must not retry, got %d nacks", queue.Nacked)
	}
}

func TestWorkerProcessesDeleteTask(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{}

	if err := queue.Enqueue(context.Background(), domain.NewDeleteTask("org-1", "doc-9")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	deleted := ingest.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "doc-9" {
		t.Errorf("expected doc-9 deleted, got %v", deleted)
	}
}

func TestWorkerTreatsMissingDeleteTargetAsDone(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{
		DeleteFn: func(string) (*domain.DeleteResult, error) {
			return nil, fmt.Errorf("document gone: %w", domain.ErrNotFound)
		},
	}

	if err := queue.Enqueue(context.Background(), domain.NewDeleteTask("org-1", "doc-9")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	if queue.Nacked != 0 {
		t.Errorf("redelivered delete must not retry, got %d nacks", queue.Nacked)
	}
}

func TestWorkerProcessesSweepTask(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	maintenance := &fakeMaintenance{}

	if err := queue.Enqueue(context.Background(), domain.NewSweepCourseTask("org-1", "course-7")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, &fakeIngest{}, maintenance)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	keys := maintenance.sweepKeys()
	if len(keys) != 1 || keys[0] != "org-1/course-7" {
		t.Errorf("expected sweep of org-1/course-7, got %v", keys)
	}
}

func TestWorkerProcessesExportStatsTask(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	maintenance := &fakeMaintenance{}

	if err := queue.Enqueue(context.Background(), domain.NewTask(domain.TaskTypeExportStats, "", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, &fakeIngest{}, maintenance)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	if maintenance.exportCount() != 1 {
		t.Errorf("expected one export, got %d", maintenance.exportCount())
	}
}

func TestWorkerAcksUnknownTaskType(t *testing.T) {
	queue := mocks.NewMockTaskQueue()

	if err := queue.Enqueue(context.Background(), domain.NewTask("reticulate_splines", "org-1", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, &fakeIngest{}, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	if queue.Nacked != 0 {
		t.Errorf("unknown type must not be retried, got %d nacks", queue.Nacked)
	}
}

func TestWorkerMissingPayloadIsPermanent(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ingest := &fakeIngest{}

	if err := queue.Enqueue(context.Background(), domain.NewTask(domain.TaskTypeIngestDocument, "org-1", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(queue, ingest, &fakeMaintenance{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return queue.Acked == 1 })

	if len(ingest.indexedIDs()) != 0 {
		t.Error("index must not run without a document id")
	}
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	w := newTestWorker(queue, &fakeIngest{}, &fakeMaintenance{})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	w.Stop()
	w.Stop() // stop after stop is a no-op
}

func TestWorkerStopWaitsForProcessors(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	w := newTestWorker(queue, &fakeIngest{}, &fakeMaintenance{})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()

	select {
	case <-w.doneCh:
	default:
		t.Error("processors still running after Stop")
	}
}

func TestWorkerHealth(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	w := newTestWorker(queue, &fakeIngest{}, &fakeMaintenance{})

	health := w.Health(context.Background())
	if health.Running {
		t.Error("worker not started yet")
	}
	if !health.QueueHealth {
		t.Error("mock queue is healthy")
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	health = w.Health(context.Background())
	if !health.Running {
		t.Error("expected running worker")
	}
}
