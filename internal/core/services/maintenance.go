package services

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
)

var _ driving.MaintenanceService = (*maintenanceService)(nil)

const (
	// scheduleLockName guards the due-schedule poll across instances
	scheduleLockName = "maintenance-schedules"
	// statsExportLockName guards snapshot export across instances
	statsExportLockName = "stats-export"
)

// MaintenanceConfig tunes the recurring background duties.
type MaintenanceConfig struct {
	// PollInterval is how often due schedules are checked (default 30s)
	PollInterval time.Duration

	// LockTTL bounds how long a crashed instance keeps a duty lock (default 60s)
	LockTTL time.Duration

	// SnapshotsKept is how many exported corpus snapshots survive pruning
	// (default 24, one six-hour day at the default export interval)
	SnapshotsKept int

	// SweepPageSize is the document page size during course sweeps (default 100)
	SweepPageSize int

	// PendingGrace is how long a document may sit pending before a sweep
	// considers it stuck and re-enqueues it (default 10m)
	PendingGrace time.Duration
}

// DefaultMaintenanceConfig returns production defaults.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		PollInterval:  30 * time.Second,
		LockTTL:       time.Minute,
		SnapshotsKept: 24,
		SweepPageSize: 100,
		PendingGrace:  10 * time.Minute,
	}
}

// MaintenanceDeps bundles the collaborators of the maintenance service.
type MaintenanceDeps struct {
	Documents driven.DocumentStore
	Stats     driven.CorpusStatsStore
	Snapshots driven.CorpusSnapshotStore
	Cache     driven.Cache
	Queue     driven.TaskQueue
	Scheduler driven.SchedulerStore

	// Lock is optional. Without it duties run unguarded (single instance);
	// with it, a cycle that cannot acquire the lock is skipped.
	Lock driven.DistributedLock

	Logger *slog.Logger
}

// maintenanceService runs the recurring background duties: polling due
// schedules into the task queue, exporting corpus statistics snapshots
// and sweeping courses for stuck documents.
type maintenanceService struct {
	cfg    MaintenanceConfig
	deps   MaintenanceDeps
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMaintenanceService creates the maintenance service.
func NewMaintenanceService(cfg MaintenanceConfig, deps MaintenanceDeps) driving.MaintenanceService {
	def := DefaultMaintenanceConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.SnapshotsKept <= 0 {
		cfg.SnapshotsKept = def.SnapshotsKept
	}
	if cfg.SweepPageSize <= 0 {
		cfg.SweepPageSize = def.SweepPageSize
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = def.PendingGrace
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &maintenanceService{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "maintenance"),
	}
}

// Start seeds the platform schedules, restores corpus counters from the
// latest snapshot when they are empty, and begins the polling loop. It
// returns once the loop is running.
func (s *maintenanceService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.ensureSchedules(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to seed schedules: %w", err)
	}
	s.restoreStats(ctx)

	s.logger.Info("maintenance starting", "poll_interval", s.cfg.PollInterval)
	go s.run(ctx)
	return nil
}

// Stop halts the polling loop and waits for the current cycle to finish.
func (s *maintenanceService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("maintenance stopped")
	return nil
}

func (s *maintenanceService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.checkSchedules(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkSchedules(ctx)
		}
	}
}

// ensureSchedules registers the platform-wide schedules that are not in
// the store yet. Existing rows keep any operator edits.
func (s *maintenanceService) ensureSchedules(ctx context.Context) error {
	for _, sched := range domain.DefaultSchedules() {
		_, err := s.deps.Scheduler.GetScheduledTask(ctx, sched.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := s.deps.Scheduler.SaveScheduledTask(ctx, sched); err != nil {
			return err
		}
		s.logger.Info("registered schedule", "schedule_id", sched.ID, "interval", sched.Interval)
	}
	return nil
}

// restoreStats imports the latest snapshot into empty live counters so a
// fresh deployment scores with yesterday's corpus shape instead of zeros.
func (s *maintenanceService) restoreStats(ctx context.Context) {
	live, err := s.deps.Stats.Export(ctx)
	if err != nil {
		s.logger.Warn("failed to inspect live corpus statistics", "error", err)
		return
	}
	if live.TotalChunks > 0 {
		return
	}

	snap, err := s.deps.Snapshots.LatestSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to load corpus snapshot", "error", err)
		}
		return
	}
	if err := s.deps.Stats.Import(ctx, snap); err != nil {
		s.logger.Warn("failed to import corpus snapshot", "error", err)
		return
	}
	s.logger.Info("corpus statistics restored from snapshot",
		"chunks", snap.TotalChunks, "terms", len(snap.DocumentFrequency))
}

// checkSchedules enqueues one task per due schedule. With a lock
// configured the whole poll is skipped unless this instance holds it.
func (s *maintenanceService) checkSchedules(ctx context.Context) {
	release, ok := s.acquireLock(ctx, scheduleLockName)
	if !ok {
		return
	}
	defer release()

	due, err := s.deps.Scheduler.GetDueScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sched := range due {
		if !sched.IsDue() {
			continue
		}

		task := domain.NewTask(sched.Type, sched.OrgID, nil)
		if err := s.deps.Queue.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue scheduled task",
				"schedule_id", sched.ID, "error", err)
			_ = s.deps.Scheduler.UpdateLastRun(ctx, sched.ID, err.Error())
			continue
		}

		s.logger.Info("enqueued scheduled task",
			"schedule_id", sched.ID, "task_id", task.ID, "task_type", task.Type)

		if err := s.deps.Scheduler.UpdateLastRun(ctx, sched.ID, ""); err != nil {
			s.logger.Warn("failed to update schedule last run",
				"schedule_id", sched.ID, "error", err)
		}
	}
}

// ExportStats snapshots the live corpus counters to durable storage and
// prunes old snapshots. Concurrent exports on other instances are skipped
// via the duty lock.
func (s *maintenanceService) ExportStats(ctx context.Context) error {
	release, ok := s.acquireLock(ctx, statsExportLockName)
	if !ok {
		s.logger.Info("stats export already running elsewhere, skipping")
		return nil
	}
	defer release()

	stats, err := s.deps.Stats.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to export corpus statistics: %w", err)
	}
	if err := s.deps.Snapshots.SaveSnapshot(ctx, stats); err != nil {
		return fmt.Errorf("failed to persist corpus snapshot: %w", err)
	}

	pruned, err := s.deps.Snapshots.PruneSnapshots(ctx, s.cfg.SnapshotsKept)
	if err != nil {
		s.logger.Warn("failed to prune corpus snapshots", "error", err)
	}

	s.logger.Info("corpus statistics exported",
		"chunks", stats.TotalChunks,
		"terms", len(stats.DocumentFrequency),
		"pruned", pruned)
	return nil
}

// SweepCourse invalidates the course's cached search responses and
// re-enqueues its failed and stuck-pending documents.
func (s *maintenanceService) SweepCourse(ctx context.Context, orgID, courseID string) error {
	if orgID == "" || courseID == "" {
		return fmt.Errorf("org and course are required: %w", domain.ErrValidation)
	}

	if _, err := s.deps.Cache.DeletePrefix(ctx, searchCachePrefix(orgID, courseID)); err != nil {
		s.logger.Warn("failed to invalidate course cache",
			"org_id", orgID, "course_id", courseID, "error", err)
	}

	requeued := 0
	cutoff := time.Now().Add(-s.cfg.PendingGrace)
	for offset := 0; ; {
		docs, err := s.deps.Documents.ListByCourse(ctx, orgID, courseID, s.cfg.SweepPageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list course documents: %w", err)
		}

		for _, doc := range docs {
			stuck := doc.IndexState == domain.IndexStateFailed ||
				(doc.IndexState == domain.IndexStatePending && doc.UpdatedAt.Before(cutoff))
			if !stuck {
				continue
			}
			if err := s.deps.Queue.Enqueue(ctx, domain.NewIngestTask(doc.OrgID, doc.ID)); err != nil {
				s.logger.Error("failed to re-enqueue document",
					"document_id", doc.ID, "error", err)
				continue
			}
			requeued++
		}

		if len(docs) < s.cfg.SweepPageSize {
			break
		}
		offset += len(docs)
	}

	s.logger.Info("course sweep completed",
		"org_id", orgID, "course_id", courseID, "requeued", requeued)
	return nil
}

// acquireLock takes the named duty lock when one is configured. The
// returned release is a no-op without a lock.
func (s *maintenanceService) acquireLock(ctx context.Context, name string) (func(), bool) {
	if s.deps.Lock == nil {
		return func() {}, true
	}

	acquired, err := s.deps.Lock.Acquire(ctx, name, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("failed to acquire duty lock", "lock", name, "error", err)
		return nil, false
	}
	if !acquired {
		s.logger.Debug("duty lock held by another instance", "lock", name)
		return nil, false
	}

	return func() {
		if err := s.deps.Lock.Release(ctx, name); err != nil {
			s.logger.Warn("failed to release duty lock", "lock", name, "error", err)
		}
	}, true
}
