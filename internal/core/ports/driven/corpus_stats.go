package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// CorpusStatsStore maintains the live corpus counters BM25 scoring reads:
// per-term document frequency, total chunk count and total token length.
// Increments must be atomic under concurrent ingestion. Reads may lag
// writes slightly; scoring tolerates staleness.
type CorpusStatsStore interface {
	// AddChunk records one indexed chunk: each distinct term's document
	// frequency is incremented once, and the totals are updated.
	AddChunk(ctx context.Context, terms []string, tokenLength int) error

	// RemoveChunk reverses AddChunk when a chunk leaves the corpus
	RemoveChunk(ctx context.Context, terms []string, tokenLength int) error

	// Snapshot returns the totals plus document frequencies for the given
	// terms. Terms absent from the corpus map to zero.
	Snapshot(ctx context.Context, terms []string) (*domain.CorpusStatistics, error)

	// Export returns the full statistics for persistence
	Export(ctx context.Context) (*domain.CorpusStatistics, error)

	// Import replaces the live counters with a previously exported snapshot
	Import(ctx context.Context, stats *domain.CorpusStatistics) error

	// Ping checks if the stats backend is healthy
	Ping(ctx context.Context) error
}

// CorpusSnapshotStore persists exported statistics so a fresh deployment
// can seed its live counters (PostgreSQL).
type CorpusSnapshotStore interface {
	// SaveSnapshot stores an exported snapshot
	SaveSnapshot(ctx context.Context, stats *domain.CorpusStatistics) error

	// LatestSnapshot returns the most recent snapshot, or ErrNotFound
	LatestSnapshot(ctx context.Context) (*domain.CorpusStatistics, error)

	// PruneSnapshots removes all but the newest keep snapshots
	PruneSnapshots(ctx context.Context, keep int) (int, error)
}
