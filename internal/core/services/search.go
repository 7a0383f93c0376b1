package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driving"
	"github.com/lectern-ai/lectern-core/internal/embedder"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/sparse"
)

// Ensure searchService implements SearchService
var _ driving.SearchService = (*searchService)(nil)

// SearchConfig tunes fusion and response caching.
type SearchConfig struct {
	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int
	// DefaultLimit applies when a request does not set one.
	DefaultLimit int
	// MaxLimit caps any requested limit.
	MaxLimit int
	// CacheTTL bounds cached responses; explicit invalidation also applies.
	CacheTTL time.Duration
}

// DefaultSearchConfig returns the production fusion settings.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		RRFK:         60,
		DefaultLimit: 10,
		MaxLimit:     50,
		CacheTTL:     5 * time.Minute,
	}
}

// searchService implements hybrid dense+sparse retrieval with RRF fusion
type searchService struct {
	cfg     SearchConfig
	batcher *embedder.Batcher
	sparse  *sparse.Generator
	stats   driven.CorpusStatsStore
	vectors driven.VectorStore
	chunks  driven.ChunkStore
	cache   driven.Cache
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewSearchService creates a new SearchService
func NewSearchService(
	cfg SearchConfig,
	batcher *embedder.Batcher,
	generator *sparse.Generator,
	stats driven.CorpusStatsStore,
	vectors driven.VectorStore,
	chunks driven.ChunkStore,
	cache driven.Cache,
	logger *slog.Logger,
	collector *metrics.Collector,
) driving.SearchService {
	return &searchService{
		cfg:     cfg,
		batcher: batcher,
		sparse:  generator,
		stats:   stats,
		vectors: vectors,
		chunks:  chunks,
		cache:   cache,
		logger:  logger.With("component", "search"),
		metrics: collector,
	}
}

// Search runs the hybrid retrieval path: both modalities in parallel against
// the store with tenant filters applied server-side, fused with RRF.
func (s *searchService) Search(ctx context.Context, query string, tenant domain.Tenant, opts domain.SearchOptions) (*domain.SearchResult, error) {
	start := time.Now()

	query = normalizeQuery(query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrValidation)
	}
	if !tenant.Valid() {
		return nil, fmt.Errorf("incomplete tenant scope: %w", domain.ErrValidation)
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.DefaultLimit
	}
	if opts.Limit > s.cfg.MaxLimit {
		opts.Limit = s.cfg.MaxLimit
	}

	key := s.cacheKey(query, tenant, opts)
	if cached, ok := s.cacheGet(ctx, key); ok {
		s.metrics.CacheHits.WithLabelValues(metrics.CacheSearch).Inc()
		s.metrics.SearchDuration.WithLabelValues("true").Observe(time.Since(start).Seconds())
		cached.Cached = true
		cached.Took = time.Since(start)
		return cached, nil
	}
	s.metrics.CacheMisses.WithLabelValues(metrics.CacheSearch).Inc()

	filter := driven.VectorFilter{
		OrgID:       tenant.OrgID,
		CourseID:    tenant.CourseID,
		HasCode:     opts.HasCode,
		HasFormulas: opts.HasFormulas,
		HasTables:   opts.HasTables,
	}
	fetch := 2 * opts.Limit

	var denseHits, sparseHits []*domain.ScoredPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, err := s.batcher.EmbedQuery(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		denseHits, err = s.vectors.QueryDense(gctx, dense, filter, fetch)
		if err != nil {
			return fmt.Errorf("dense retrieval: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		terms := sparse.Tokenize(query)
		if len(terms) == 0 {
			return nil
		}
		snapshot, err := s.stats.Snapshot(gctx, terms)
		if err != nil {
			return fmt.Errorf("corpus snapshot: %w", err)
		}
		vector := s.sparse.Generate(query, snapshot)
		if vector.IsZero() {
			return nil
		}
		sparseHits, err = s.vectors.QuerySparse(gctx, vector, filter, fetch)
		if err != nil {
			return fmt.Errorf("sparse retrieval: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := s.fuse(denseHits, sparseHits)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	if opts.WithParents {
		if err := s.hydrateParents(ctx, results); err != nil {
			// Parent text is contextual enrichment; the ranked hits stand
			// on their own when the chunk store is unavailable.
			s.logger.Warn("parent hydration failed", "error", err)
		}
	}

	result := &domain.SearchResult{
		Query:   query,
		Results: results,
		Took:    time.Since(start),
	}
	s.cacheSet(ctx, key, result)
	s.metrics.SearchDuration.WithLabelValues("false").Observe(time.Since(start).Seconds())
	return result, nil
}

// InvalidateCourse drops every cached response scoped to the course.
func (s *searchService) InvalidateCourse(ctx context.Context, orgID, courseID string) error {
	n, err := s.cache.DeletePrefix(ctx, searchCachePrefix(orgID, courseID))
	if err != nil {
		return fmt.Errorf("invalidate course cache: %w", err)
	}
	s.logger.Debug("invalidated search cache", "org_id", orgID, "course_id", courseID, "entries", n)
	return nil
}

// fuse merges the two ranked lists with reciprocal rank fusion. Ties are
// broken by dense rank, then chunk ID, so ordering never depends on map
// iteration.
func (s *searchService) fuse(denseHits, sparseHits []*domain.ScoredPoint) []*domain.RankedChunk {
	fused := make(map[string]*domain.RankedChunk, len(denseHits)+len(sparseHits))
	order := make([]string, 0, len(denseHits)+len(sparseHits))

	for i, hit := range denseHits {
		rank := i + 1
		rc := &domain.RankedChunk{
			ChunkID:   hit.Payload.ChunkID,
			Score:     rrf(s.cfg.RRFK, rank),
			Source:    domain.RankSourceDense,
			DenseRank: rank,
			Payload:   hit.Payload,
		}
		fused[hit.ID] = rc
		order = append(order, hit.ID)
	}
	for i, hit := range sparseHits {
		rank := i + 1
		if rc, ok := fused[hit.ID]; ok {
			rc.Score += rrf(s.cfg.RRFK, rank)
			rc.SparseRank = rank
			rc.Source = domain.RankSourceBoth
			continue
		}
		fused[hit.ID] = &domain.RankedChunk{
			ChunkID:    hit.Payload.ChunkID,
			Score:      rrf(s.cfg.RRFK, rank),
			Source:     domain.RankSourceSparse,
			SparseRank: rank,
			Payload:    hit.Payload,
		}
		order = append(order, hit.ID)
	}

	results := make([]*domain.RankedChunk, 0, len(order))
	for _, id := range order {
		results = append(results, fused[id])
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		di, dj := results[i].DenseRank, results[j].DenseRank
		if di == 0 {
			di = math.MaxInt
		}
		if dj == 0 {
			dj = math.MaxInt
		}
		if di != dj {
			return di < dj
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// rrf is the reciprocal-rank contribution of a 1-based rank.
func rrf(k, rank int) float64 {
	return 1 / float64(k+rank)
}

// hydrateParents attaches each hit's parent chunk text as retrieval context.
func (s *searchService) hydrateParents(ctx context.Context, results []*domain.RankedChunk) error {
	seen := make(map[string]bool)
	var ids []string
	for _, rc := range results {
		if id := rc.Payload.ParentID; id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	parents, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	text := make(map[string]string, len(parents))
	for _, p := range parents {
		text[p.ID] = p.Text
	}
	for _, rc := range results {
		rc.ParentText = text[rc.Payload.ParentID]
	}
	return nil
}

func (s *searchService) cacheGet(ctx context.Context, key string) (*domain.SearchResult, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var result domain.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.Warn("discarding undecodable cached search response", "error", err)
		return nil, false
	}
	return &result, true
}

func (s *searchService) cacheSet(ctx context.Context, key string, result *domain.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("search cache write failed", "error", err)
	}
}

// cacheKey addresses a response by normalized query, tenant and options.
// The course prefix groups entries for explicit invalidation.
func (s *searchService) cacheKey(query string, tenant domain.Tenant, opts domain.SearchOptions) string {
	optsJSON, _ := json.Marshal(opts)
	sum := sha256.Sum256([]byte(query + "\x00" + string(optsJSON)))
	return searchCachePrefix(tenant.OrgID, tenant.CourseID) + hex.EncodeToString(sum[:])
}

func searchCachePrefix(orgID, courseID string) string {
	return "search:" + orgID + ":" + courseID + ":"
}

// normalizeQuery collapses whitespace so trivially different spellings of
// one query share an embedding, a sparse vector and a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
