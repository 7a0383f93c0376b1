// Package uploader converts embedding results into vector points and writes
// them to the vector store in bounded batches. Point IDs are derived from
// document and chunk identity, so retried uploads overwrite in place instead
// of duplicating.
package uploader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/retry"
)

// pointNamespace seeds the UUIDv5 derivation of point IDs. Changing it
// orphans every already-uploaded point.
var pointNamespace = uuid.MustParse("8c3f5a19-7d42-4e8b-9f60-2ab1c4d7e358")

// Batch size bounds accepted by the vector store in one request.
const (
	DefaultBatchSize = 128
	MinBatchSize     = 100
	MaxBatchSize     = 500
)

// PointID derives the stable vector point ID for a chunk's copy under one
// document. Originals and tenant duplicates of the same chunk get distinct
// IDs because their document IDs differ.
func PointID(documentID, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+"/"+chunkID)).String()
}

// Config tunes batching and retry behavior.
type Config struct {
	// BatchSize is the number of points per upsert request.
	BatchSize int
	// Retry is applied around every store call.
	Retry retry.Policy
}

// DefaultConfig returns the production upload settings.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		Retry:     retry.DefaultPolicy(),
	}
}

// Validate checks the batch size against the store's accepted bounds.
func (c Config) Validate() error {
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size %d outside [%d, %d]", c.BatchSize, MinBatchSize, MaxBatchSize)
	}
	return nil
}

// Uploader writes embedded chunks to the vector store.
type Uploader struct {
	cfg     Config
	store   driven.VectorStore
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates an Uploader after validating the configuration.
func New(cfg Config, store driven.VectorStore, logger *slog.Logger, collector *metrics.Collector) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("uploader config: %w", err)
	}
	return &Uploader{
		cfg:     cfg,
		store:   store,
		logger:  logger.With("component", "uploader"),
		metrics: collector,
	}, nil
}

// Upload converts the results to points and upserts them in batches,
// returning how many points were written. Any batch failure aborts the
// upload with an error; the caller decides what to do with the document's
// index state, and the deterministic IDs make a later retry safe.
func (u *Uploader) Upload(ctx context.Context, chunks []*domain.EnrichedChunk, results []domain.EmbeddingResult) (int, error) {
	points, err := u.buildPoints(chunks, results)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	uploaded := 0
	for start := 0; start < len(points); start += u.cfg.BatchSize {
		end := start + u.cfg.BatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		err := u.cfg.Retry.Do(ctx, "upsert points", func(ctx context.Context) error {
			return u.store.Upsert(ctx, batch)
		})
		if err != nil {
			return uploaded, fmt.Errorf("upsert batch %d-%d of %d points: %w",
				start, end, len(points), err)
		}
		uploaded += len(batch)
		u.metrics.PointsUpserted.Add(float64(len(batch)))
	}

	u.logger.Debug("uploaded points", "count", uploaded, "batch_size", u.cfg.BatchSize)
	return uploaded, nil
}

// buildPoints pairs every embedding result with its chunk metadata.
func (u *Uploader) buildPoints(chunks []*domain.EnrichedChunk, results []domain.EmbeddingResult) ([]*domain.VectorPoint, error) {
	byID := make(map[string]*domain.EnrichedChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	points := make([]*domain.VectorPoint, 0, len(results))
	for _, r := range results {
		chunk, ok := byID[r.ChunkID]
		if !ok {
			return nil, fmt.Errorf("result for unknown chunk %s: %w", r.ChunkID, domain.ErrValidation)
		}
		if len(r.Dense) == 0 {
			return nil, fmt.Errorf("chunk %s has no dense vector: %w", r.ChunkID, domain.ErrValidation)
		}
		points = append(points, &domain.VectorPoint{
			ID:      PointID(chunk.DocumentID, chunk.ID),
			Dense:   r.Dense,
			Sparse:  r.Sparse,
			Payload: Payload(chunk),
		})
	}
	return points, nil
}

// Payload projects the chunk fields the search path filters and reads.
func Payload(chunk *domain.EnrichedChunk) domain.ChunkPayload {
	return domain.ChunkPayload{
		ChunkID:     chunk.ID,
		DocumentID:  chunk.DocumentID,
		ParentID:    chunk.ParentID,
		OrgID:       chunk.OrgID,
		CourseID:    chunk.CourseID,
		Ordinal:     chunk.Ordinal,
		Text:        chunk.Text,
		HeadingPath: chunk.HeadingPath,
		HasCode:     chunk.HasCode,
		HasFormulas: chunk.HasFormulas,
		HasTables:   chunk.HasTables,
		HasImages:   chunk.HasImages,
		PageStart:   chunk.PageStart,
		PageEnd:     chunk.PageEnd,
	}
}
