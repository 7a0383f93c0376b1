package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driving"
	"github.com/lectern-ai/lectern-core/internal/embedder"
	"github.com/lectern-ai/lectern-core/internal/enricher"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/normalize"
	"github.com/lectern-ai/lectern-core/internal/sparse"
	"github.com/lectern-ai/lectern-core/internal/splitter"
	"github.com/lectern-ai/lectern-core/internal/uploader"
)

// Ensure ingestService implements IngestService
var _ driving.IngestService = (*ingestService)(nil)

// DefaultScrollPageSize is the vector page size used when duplicating an
// already-indexed document for a new tenant.
const DefaultScrollPageSize = 256

// IngestConfig tunes the content lifecycle manager.
type IngestConfig struct {
	// ScrollPageSize is how many points each scroll page carries during
	// vector duplication.
	ScrollPageSize int
}

// DefaultIngestConfig returns the production defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{ScrollPageSize: DefaultScrollPageSize}
}

// IngestDeps holds the stores and pipeline stages the ingest service
// coordinates.
type IngestDeps struct {
	Documents driven.DocumentStore
	Chunks    driven.ChunkStore
	Quotas    driven.QuotaStore
	Blobs     driven.BlobStore
	Vectors   driven.VectorStore
	Stats     driven.CorpusStatsStore
	Cache     driven.Cache
	Queue     driven.TaskQueue
	Converter driven.DocumentConverter

	Splitter *splitter.Splitter
	Enricher *enricher.Enricher
	Sparse   *sparse.Generator
	Batcher  *embedder.Batcher
	Uploader *uploader.Uploader

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// ingestService implements the IngestService interface. It owns the content
// lifecycle: upload registration with content-hash dedup, the indexing
// pipeline the worker drives, and removal with reference-count settlement.
type ingestService struct {
	cfg  IngestConfig
	deps IngestDeps

	logger *slog.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(cfg IngestConfig, deps IngestDeps) driving.IngestService {
	if cfg.ScrollPageSize <= 0 {
		cfg.ScrollPageSize = DefaultScrollPageSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ingestService{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "ingest"),
	}
}

// Ingest registers an upload. The raw bytes are hashed, quota is reserved,
// and the document row is resolved against existing content: new content
// becomes an original with its artifact stored, repeated content becomes a
// reference. Either way an indexing task is enqueued and the heavy work
// happens in the worker.
func (s *ingestService) Ingest(ctx context.Context, upload domain.Upload, tenant domain.Tenant) (*domain.IngestResult, error) {
	if !tenant.Valid() {
		return nil, fmt.Errorf("%w: org and course are required", domain.ErrValidation)
	}
	if len(upload.Content) == 0 {
		return nil, fmt.Errorf("%w: upload is empty", domain.ErrValidation)
	}
	if upload.Title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if !s.deps.Converter.Supports(upload.MimeType) {
		return nil, fmt.Errorf("%w: unsupported mime type %q", domain.ErrValidation, upload.MimeType)
	}

	sum := sha256.Sum256(upload.Content)
	hash := hex.EncodeToString(sum[:])
	size := int64(len(upload.Content))

	// Quota is the admission gate. Every row, original or reference, counts
	// its full logical size against its organisation.
	if err := s.deps.Quotas.Reserve(ctx, tenant.OrgID, size); err != nil {
		return nil, fmt.Errorf("failed to reserve quota: %w", err)
	}

	doc := &domain.Document{
		ID:          domain.GenerateID(),
		OrgID:       tenant.OrgID,
		CourseID:    tenant.CourseID,
		Title:       upload.Title,
		MimeType:    upload.MimeType,
		SizeBytes:   size,
		ContentHash: hash,
		IndexState:  domain.IndexStatePending,
	}

	original, created, err := s.deps.Documents.FindOrCreateOriginal(ctx, doc)
	if err != nil {
		s.releaseQuota(ctx, tenant.OrgID, size)
		return nil, fmt.Errorf("failed to resolve content hash: %w", err)
	}

	if created {
		if err := s.deps.Blobs.Put(ctx, blobKey(hash), upload.MimeType, upload.Content); err != nil {
			s.releaseQuota(ctx, tenant.OrgID, size)
			if delErr := s.deps.Documents.Delete(ctx, original.ID); delErr != nil {
				s.logger.Warn("failed to roll back document row", "document_id", original.ID, "error", delErr)
			}
			return nil, fmt.Errorf("failed to store artifact: %w", err)
		}

		if err := s.deps.Queue.Enqueue(ctx, domain.NewIngestTask(tenant.OrgID, original.ID)); err != nil {
			// The row and artifact are persisted; a course sweep re-enqueues it.
			return nil, fmt.Errorf("failed to enqueue indexing: %w", err)
		}

		s.logger.Info("upload registered",
			"document_id", original.ID,
			"org_id", tenant.OrgID,
			"course_id", tenant.CourseID,
			"size_bytes", size,
		)
		return &domain.IngestResult{DocumentID: original.ID}, nil
	}

	// Identical content already exists anywhere on the platform: create a
	// reference row under this tenancy instead of re-processing the bytes.
	ref := &domain.Document{
		ID:          domain.GenerateID(),
		OrgID:       tenant.OrgID,
		CourseID:    tenant.CourseID,
		Title:       upload.Title,
		MimeType:    upload.MimeType,
		SizeBytes:   size,
		ContentHash: hash,
		OriginalID:  original.ID,
		IndexState:  domain.IndexStatePending,
	}
	if err := s.deps.Documents.CreateReference(ctx, ref); err != nil {
		s.releaseQuota(ctx, tenant.OrgID, size)
		return nil, fmt.Errorf("failed to create reference: %w", err)
	}

	if err := s.deps.Queue.Enqueue(ctx, domain.NewIngestTask(tenant.OrgID, ref.ID)); err != nil {
		return nil, fmt.Errorf("failed to enqueue indexing: %w", err)
	}

	s.logger.Info("upload deduplicated",
		"document_id", ref.ID,
		"original_id", original.ID,
		"org_id", tenant.OrgID,
		"course_id", tenant.CourseID,
	)
	return &domain.IngestResult{DocumentID: ref.ID, Deduplicated: true}, nil
}

// Index runs the indexing pipeline for one document. Originals go through
// the full convert-split-embed-upload flow; references copy the original's
// vectors under their own tenancy without touching the embedding provider.
// Already-indexed documents are a no-op so task redeliveries are safe.
func (s *ingestService) Index(ctx context.Context, documentID string) error {
	doc, err := s.deps.Documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	switch doc.IndexState {
	case domain.IndexStateIndexed:
		s.logger.Info("document already indexed", "document_id", doc.ID)
		return nil
	case domain.IndexStateRemoved:
		return fmt.Errorf("%w: document %s is removed", domain.ErrValidation, doc.ID)
	}

	if doc.IsOriginal() {
		return s.indexOriginal(ctx, doc)
	}
	return s.indexReference(ctx, doc)
}

// indexOriginal executes the pipeline:
//  1. Fetch the artifact
//  2. Convert to markdown and normalize
//  3. Split into parent and child chunks, persist the rows
//  4. Enrich children and fold them into the corpus statistics
//  5. Generate sparse vectors against the updated statistics
//  6. Embed children (dense) and upload the points
func (s *ingestService) indexOriginal(ctx context.Context, doc *domain.Document) error {
	// Step 1: fetch the artifact
	rc, err := s.deps.Blobs.Get(ctx, blobKey(doc.ContentHash))
	if err != nil {
		return s.failIndex(ctx, doc, fmt.Errorf("failed to fetch artifact: %w", err))
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return s.failIndex(ctx, doc, fmt.Errorf("failed to read artifact: %w", err))
	}

	// Step 2: convert and normalize
	markdown, err := s.deps.Converter.Convert(ctx, doc.MimeType, content)
	if err != nil {
		return s.failIndex(ctx, doc, fmt.Errorf("failed to convert: %w", err))
	}
	text := normalize.Markdown(markdown)

	// Step 3: split and persist chunks
	chunks, err := s.deps.Splitter.Split(ctx, doc.ID, text)
	if err != nil {
		return s.failIndex(ctx, doc, fmt.Errorf("failed to split: %w", err))
	}
	if len(chunks) == 0 {
		s.logger.Warn("document produced no chunks", "document_id", doc.ID)
		return s.finishIndex(ctx, doc, metrics.OutcomeIndexed, 0)
	}
	if err := s.deps.Chunks.SaveBatch(ctx, chunks); err != nil {
		return s.failIndex(ctx, doc, fmt.Errorf("failed to save chunks: %w", err))
	}

	// Step 4: enrich children and update corpus statistics
	children := childChunks(chunks)
	enriched := s.deps.Enricher.EnrichAll(children, domain.DocumentContext{
		DocumentID: doc.ID,
		OrgID:      doc.OrgID,
		CourseID:   doc.CourseID,
		Title:      doc.Title,
		MimeType:   doc.MimeType,
	})

	termsByChunk := make([][]string, len(enriched))
	for i := range enriched {
		termsByChunk[i] = sparse.Tokenize(enriched[i].Text)
		if err := s.deps.Stats.AddChunk(ctx, termsByChunk[i], len(termsByChunk[i])); err != nil {
			s.rollbackStats(ctx, termsByChunk[:i])
			return s.failIndex(ctx, doc, fmt.Errorf("failed to update corpus statistics: %w", err))
		}
	}

	// Step 5: sparse vectors from a statistics snapshot that includes this
	// document's own terms
	snap, err := s.deps.Stats.Snapshot(ctx, distinctTerms(termsByChunk))
	if err != nil {
		s.rollbackStats(ctx, termsByChunk)
		return s.failIndex(ctx, doc, fmt.Errorf("failed to snapshot corpus statistics: %w", err))
	}

	// Step 6: dense vectors and upload
	pointers := make([]*domain.EnrichedChunk, len(enriched))
	for i := range enriched {
		pointers[i] = &enriched[i]
	}
	results, err := s.deps.Batcher.EmbedChunks(ctx, pointers, domain.EmbeddingTaskPassage)
	if err != nil {
		s.rollbackStats(ctx, termsByChunk)
		return s.failIndex(ctx, doc, fmt.Errorf("failed to embed: %w", err))
	}
	for i := range results {
		results[i].Sparse = s.deps.Sparse.Generate(enriched[i].Text, snap)
	}

	uploaded, err := s.deps.Uploader.Upload(ctx, pointers, results)
	if err != nil {
		s.sweepPoints(ctx, doc.ID)
		s.rollbackStats(ctx, termsByChunk)
		return s.failIndex(ctx, doc, fmt.Errorf("failed to upload vectors: %w", err))
	}

	return s.finishIndex(ctx, doc, metrics.OutcomeIndexed, uploaded)
}

// indexReference duplicates an already-indexed copy of the content under
// the reference's tenancy. Point IDs are re-derived from the reference's
// document ID so re-runs overwrite in place, and the embedding provider is
// never called.
func (s *ingestService) indexReference(ctx context.Context, ref *domain.Document) error {
	original, err := s.deps.Documents.Get(ctx, ref.OriginalID)
	if err != nil {
		return s.failIndex(ctx, ref, fmt.Errorf("failed to get original: %w", err))
	}

	sourceID, err := s.duplicationSource(ctx, ref, original)
	if err != nil {
		return err
	}

	copied := 0
	offset := ""
	for {
		points, next, err := s.deps.Vectors.ScrollByDocument(ctx, sourceID, s.cfg.ScrollPageSize, offset)
		if err != nil {
			return s.failIndex(ctx, ref, fmt.Errorf("failed to scroll source vectors: %w", err))
		}
		if len(points) > 0 {
			for _, p := range points {
				p.ID = uploader.PointID(ref.ID, p.Payload.ChunkID)
				p.Payload.DocumentID = ref.ID
				p.Payload.OrgID = ref.OrgID
				p.Payload.CourseID = ref.CourseID
			}
			if err := s.deps.Vectors.Upsert(ctx, points); err != nil {
				s.sweepPoints(ctx, ref.ID)
				return s.failIndex(ctx, ref, fmt.Errorf("failed to upsert duplicated vectors: %w", err))
			}
			copied += len(points)
		}
		if next == "" {
			break
		}
		offset = next
	}

	s.deps.Metrics.PointsUpserted.Add(float64(copied))
	return s.finishIndex(ctx, ref, metrics.OutcomeDeduplicated, copied)
}

// duplicationSource picks the document whose vectors get copied: the
// original when its copy is live, otherwise any indexed reference. Content
// whose only holders are still pending is retried by the task queue.
func (s *ingestService) duplicationSource(ctx context.Context, ref, original *domain.Document) (string, error) {
	if original.IndexState == domain.IndexStateIndexed {
		return original.ID, nil
	}

	refs, err := s.deps.Documents.ListReferences(ctx, original.ID)
	if err != nil {
		return "", s.failIndex(ctx, ref, fmt.Errorf("failed to list references: %w", err))
	}
	for _, r := range refs {
		if r.ID != ref.ID && r.IndexState == domain.IndexStateIndexed {
			return r.ID, nil
		}
	}

	if original.IndexState == domain.IndexStateFailed {
		return "", s.failIndex(ctx, ref, fmt.Errorf("original %s failed to index", original.ID))
	}
	return "", fmt.Errorf("no indexed copy of %s yet: %w", original.ID, domain.ErrIndexInProgress)
}

// Delete removes a document and settles reference counts. The physical
// artifact, chunk rows and corpus statistics survive as long as any holder
// of the content is alive; the last holder out destroys them.
func (s *ingestService) Delete(ctx context.Context, documentID string) (*domain.DeleteResult, error) {
	doc, err := s.deps.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.IndexState == domain.IndexStateRemoved {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}

	if err := s.deps.Vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to delete vectors: %w", err)
	}

	originalID := doc.OriginalID
	if doc.IsOriginal() {
		originalID = doc.ID
	} else if err := s.deps.Documents.Delete(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to delete document row: %w", err)
	}

	remaining, err := s.deps.Documents.DecrementRefCount(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("failed to settle reference count: %w", err)
	}
	s.releaseQuota(ctx, doc.OrgID, doc.SizeBytes)
	s.invalidateCourse(ctx, doc.OrgID, doc.CourseID)

	result := &domain.DeleteResult{RemainingReferences: remaining}

	if remaining == 0 {
		// The decrement can only reach zero after the original's own copy is
		// gone, so the anchor is free to destroy.
		if err := s.destroyPhysical(ctx, originalID, doc.ContentHash); err != nil {
			return nil, err
		}
		result.PhysicalDeleted = true
	} else if doc.IsOriginal() {
		// References still point here: keep the row as the hash anchor so
		// future uploads of the same bytes keep deduplicating.
		if err := s.deps.Documents.UpdateIndexState(ctx, doc.ID, domain.IndexStateRemoved, ""); err != nil {
			return nil, fmt.Errorf("failed to mark document removed: %w", err)
		}
	}

	s.logger.Info("document deleted",
		"document_id", doc.ID,
		"physical", result.PhysicalDeleted,
		"remaining_references", remaining,
	)
	return result, nil
}

// destroyPhysical removes the shared artifacts of a content hash: chunk
// rows, corpus statistics contributions, the blob and the anchor row. Chunk
// rows go first so a retried partial destroy cannot subtract the same terms
// from the statistics twice.
func (s *ingestService) destroyPhysical(ctx context.Context, originalID, contentHash string) error {
	chunks, err := s.deps.Chunks.GetByDocument(ctx, originalID)
	if err != nil {
		return fmt.Errorf("failed to load chunks for destroy: %w", err)
	}
	if err := s.deps.Chunks.DeleteByDocument(ctx, originalID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	for _, c := range childChunks(chunks) {
		terms := sparse.Tokenize(c.Text)
		if err := s.deps.Stats.RemoveChunk(ctx, terms, len(terms)); err != nil {
			s.logger.Warn("failed to remove chunk from corpus statistics",
				"document_id", originalID, "chunk_id", c.ID, "error", err)
		}
	}

	if err := s.deps.Blobs.Delete(ctx, blobKey(contentHash)); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	if err := s.deps.Documents.Delete(ctx, originalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete anchor row: %w", err)
	}
	return nil
}

// GetDocument returns a document's current lifecycle state.
func (s *ingestService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.deps.Documents.Get(ctx, id)
}

// finishIndex transitions a document to indexed and invalidates the
// course's cached search responses.
func (s *ingestService) finishIndex(ctx context.Context, doc *domain.Document, outcome string, points int) error {
	if err := s.deps.Documents.UpdateIndexState(ctx, doc.ID, domain.IndexStateIndexed, ""); err != nil {
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}
	s.invalidateCourse(ctx, doc.OrgID, doc.CourseID)
	s.deps.Metrics.IngestedDocuments.WithLabelValues(outcome).Inc()

	s.logger.Info("document indexed",
		"document_id", doc.ID,
		"outcome", outcome,
		"points", points,
	)
	return nil
}

// failIndex records the failure on the document row and returns the error
// for the task queue to act on.
func (s *ingestService) failIndex(ctx context.Context, doc *domain.Document, err error) error {
	if updErr := s.deps.Documents.UpdateIndexState(ctx, doc.ID, domain.IndexStateFailed, err.Error()); updErr != nil {
		s.logger.Warn("failed to record index failure", "document_id", doc.ID, "error", updErr)
	}
	s.deps.Metrics.IngestedDocuments.WithLabelValues(metrics.OutcomeFailed).Inc()

	s.logger.Error("indexing failed", "document_id", doc.ID, "error", err)
	return err
}

// sweepPoints deletes whatever points a failed upload already committed, so
// search never surfaces a half-indexed document. Best effort: point IDs are
// deterministic, so a retry overwrites anything a failed sweep leaves behind.
func (s *ingestService) sweepPoints(ctx context.Context, documentID string) {
	if err := s.deps.Vectors.DeleteByDocument(ctx, documentID); err != nil {
		s.logger.Warn("failed to sweep partial points", "document_id", documentID, "error", err)
	}
}

// rollbackStats undoes AddChunk calls after a later pipeline stage failed,
// so a retry does not count the same chunks twice.
func (s *ingestService) rollbackStats(ctx context.Context, termsByChunk [][]string) {
	for _, terms := range termsByChunk {
		if err := s.deps.Stats.RemoveChunk(ctx, terms, len(terms)); err != nil {
			s.logger.Warn("failed to roll back corpus statistics", "error", err)
		}
	}
}

func (s *ingestService) releaseQuota(ctx context.Context, orgID string, size int64) {
	if err := s.deps.Quotas.Release(ctx, orgID, size); err != nil {
		s.logger.Warn("failed to release quota", "org_id", orgID, "error", err)
	}
}

func (s *ingestService) invalidateCourse(ctx context.Context, orgID, courseID string) {
	if _, err := s.deps.Cache.DeletePrefix(ctx, searchCachePrefix(orgID, courseID)); err != nil {
		s.logger.Warn("failed to invalidate course cache",
			"org_id", orgID, "course_id", courseID, "error", err)
	}
}

// childChunks filters the embedded-and-searched level out of a mixed split.
func childChunks(chunks []*domain.Chunk) []*domain.Chunk {
	var children []*domain.Chunk
	for _, c := range chunks {
		if c.Level == domain.ChunkLevelChild {
			children = append(children, c)
		}
	}
	return children
}

// distinctTerms flattens per-chunk term lists into a deduplicated slice for
// one statistics snapshot covering the whole document.
func distinctTerms(termsByChunk [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, terms := range termsByChunk {
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// blobKey addresses artifacts by content so references share the
// original's object.
func blobKey(contentHash string) string {
	return "sha256/" + contentHash
}
