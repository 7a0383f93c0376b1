package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// CorpusSnapshotStore persists exported corpus statistics so a fresh
// deployment can seed its live counters from the newest snapshot.
type CorpusSnapshotStore struct {
	db *DB
}

var _ driven.CorpusSnapshotStore = (*CorpusSnapshotStore)(nil)

func NewCorpusSnapshotStore(db *DB) *CorpusSnapshotStore {
	return &CorpusSnapshotStore{db: db}
}

// SaveSnapshot appends a new snapshot row. Snapshots are immutable; pruning
// keeps the table bounded.
func (s *CorpusSnapshotStore) SaveSnapshot(ctx context.Context, stats *domain.CorpusStatistics) error {
	frequencies, err := json.Marshal(stats.DocumentFrequency)
	if err != nil {
		return fmt.Errorf("failed to marshal document frequencies: %w", err)
	}

	exportedAt := stats.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now()
	}

	query := `
		INSERT INTO corpus_snapshots (total_chunks, total_tokens, frequencies, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = s.db.ExecContext(ctx, query, stats.TotalChunks, stats.TotalTokens, frequencies, exportedAt)
	if err != nil {
		return fmt.Errorf("failed to save corpus snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or ErrNotFound when no
// snapshot has been taken yet.
func (s *CorpusSnapshotStore) LatestSnapshot(ctx context.Context) (*domain.CorpusStatistics, error) {
	query := `
		SELECT total_chunks, total_tokens, frequencies, created_at
		FROM corpus_snapshots
		ORDER BY id DESC
		LIMIT 1
	`

	var (
		stats       domain.CorpusStatistics
		frequencies []byte
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalChunks, &stats.TotalTokens, &frequencies, &stats.ExportedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus snapshot: %w", err)
	}

	if err := json.Unmarshal(frequencies, &stats.DocumentFrequency); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document frequencies: %w", err)
	}
	if stats.DocumentFrequency == nil {
		stats.DocumentFrequency = make(map[string]int64)
	}
	return &stats, nil
}

// PruneSnapshots deletes all but the newest keep rows and reports how many
// were removed.
func (s *CorpusSnapshotStore) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	query := `
		DELETE FROM corpus_snapshots
		WHERE id NOT IN (
			SELECT id FROM corpus_snapshots ORDER BY id DESC LIMIT $1
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune corpus snapshots: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(pruned), nil
}
