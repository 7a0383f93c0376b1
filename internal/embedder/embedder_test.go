package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven/mocks"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/retry"
)

type testBatcher struct {
	batcher  *Batcher
	provider *mocks.MockEmbeddingProvider
	tok      *mocks.MockTokenizer
	cache    *mocks.MockCache
}

func newTestBatcher(t *testing.T) *testBatcher {
	t.Helper()
	provider := mocks.NewMockEmbeddingProvider()
	tok := mocks.NewMockTokenizer()
	cache := mocks.NewMockCache()
	cfg := Config{
		CacheTTL: time.Hour,
		Retry:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(cfg, provider, tok, cache, logger, metrics.NewCollector(prometheus.NewRegistry()))
	return &testBatcher{batcher: b, provider: provider, tok: tok, cache: cache}
}

func enriched(id, text string, tokens int) *domain.EnrichedChunk {
	return &domain.EnrichedChunk{
		Chunk: domain.Chunk{
			ID:         id,
			DocumentID: "doc-1",
			Level:      domain.ChunkLevelChild,
			Text:       text,
			TokenCount: tokens,
		},
		OrgID:    "org-1",
		CourseID: "course-1",
	}
}

func TestEmbedChunksAllMisses(t *testing.T) {
	tb := newTestBatcher(t)
	chunks := []*domain.EnrichedChunk{
		enriched("c1", "alpha beta", 2),
		enriched("c2", "gamma delta", 2),
		enriched("c3", "epsilon", 1),
	}

	results, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, chunk := range chunks {
		if results[i].ChunkID != chunk.ID {
			t.Errorf("results[%d].ChunkID = %q, want %q", i, results[i].ChunkID, chunk.ID)
		}
		want := mocks.DeterministicVector(chunk.Text, tb.provider.Dim)
		if !reflect.DeepEqual(results[i].Dense, want) {
			t.Errorf("results[%d].Dense mismatch for %q", i, chunk.Text)
		}
		if results[i].FromCache {
			t.Errorf("results[%d].FromCache = true, want false", i)
		}
		if results[i].TokenCount != chunk.TokenCount {
			t.Errorf("results[%d].TokenCount = %d, want %d", i, results[i].TokenCount, chunk.TokenCount)
		}
	}
	if calls := tb.provider.Calls.Load(); calls != 1 {
		t.Errorf("provider calls = %d, want 1 (single wave)", calls)
	}
	if !tb.provider.LastLateChunking() {
		t.Error("late chunking not requested for chunk wave")
	}
	if task := tb.provider.LastTask(); task != domain.EmbeddingTaskPassage {
		t.Errorf("task = %q, want passage", task)
	}
	if tb.cache.Sets != 3 {
		t.Errorf("cache sets = %d, want 3", tb.cache.Sets)
	}
}

func TestEmbedChunksServesRepeatsFromCache(t *testing.T) {
	tb := newTestBatcher(t)
	chunks := []*domain.EnrichedChunk{
		enriched("c1", "alpha beta", 2),
		enriched("c2", "gamma delta", 2),
	}
	ctx := context.Background()

	first, err := tb.batcher.EmbedChunks(ctx, chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("first EmbedChunks() error = %v", err)
	}
	second, err := tb.batcher.EmbedChunks(ctx, chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("second EmbedChunks() error = %v", err)
	}

	if calls := tb.provider.Calls.Load(); calls != 1 {
		t.Errorf("provider calls = %d, want 1 (second pass fully cached)", calls)
	}
	for i := range second {
		if !second[i].FromCache {
			t.Errorf("second[%d].FromCache = false, want true", i)
		}
		if !reflect.DeepEqual(second[i].Dense, first[i].Dense) {
			t.Errorf("second[%d].Dense differs from first run", i)
		}
	}
}

func TestEmbedChunksMergesCacheHitsInOrder(t *testing.T) {
	tb := newTestBatcher(t)
	ctx := context.Background()
	middle := enriched("c2", "beta", 1)

	// Warm only the middle chunk.
	if _, err := tb.batcher.EmbedChunks(ctx, []*domain.EnrichedChunk{middle}, domain.EmbeddingTaskPassage); err != nil {
		t.Fatalf("warmup error = %v", err)
	}
	seenBefore := tb.provider.TextsSeen.Load()

	chunks := []*domain.EnrichedChunk{
		enriched("c1", "alpha", 1),
		middle,
		enriched("c3", "gamma", 1),
	}
	results, err := tb.batcher.EmbedChunks(ctx, chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}

	if delta := tb.provider.TextsSeen.Load() - seenBefore; delta != 2 {
		t.Errorf("provider saw %d new texts, want 2 (middle was cached)", delta)
	}
	wantFromCache := []bool{false, true, false}
	for i, want := range wantFromCache {
		if results[i].FromCache != want {
			t.Errorf("results[%d].FromCache = %v, want %v", i, results[i].FromCache, want)
		}
	}
	for i, chunk := range chunks {
		if results[i].ChunkID != chunk.ID {
			t.Errorf("results[%d] is %q, want %q (order must match input)", i, results[i].ChunkID, chunk.ID)
		}
		want := mocks.DeterministicVector(chunk.Text, tb.provider.Dim)
		if !reflect.DeepEqual(results[i].Dense, want) {
			t.Errorf("results[%d].Dense mismatch", i)
		}
	}
}

func TestEmbedChunksSplitsWavesByContextWindow(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.MaxContext = 10

	chunks := []*domain.EnrichedChunk{
		enriched("c1", "a b c d", 4),
		enriched("c2", "e f g h", 4),
		enriched("c3", "i j k l", 4),
	}
	results, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2 (4+4 fits, third spills)", calls)
	}
	for i, chunk := range chunks {
		want := mocks.DeterministicVector(chunk.Text, tb.provider.Dim)
		if !reflect.DeepEqual(results[i].Dense, want) {
			t.Errorf("results[%d].Dense mismatch after wave split", i)
		}
	}
}

func TestEmbedChunksRetriesTransientFailure(t *testing.T) {
	tb := newTestBatcher(t)
	failures := 1
	tb.provider.EmbedFn = func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
		if failures > 0 {
			failures--
			return nil, fmt.Errorf("upstream 503: %w", domain.ErrExternal)
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mocks.DeterministicVector(text, tb.provider.Dim)
		}
		return out, nil
	}

	chunks := []*domain.EnrichedChunk{enriched("c1", "alpha", 1)}
	results, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2 (one retry)", calls)
	}
	if len(results) != 1 || results[0].Dense == nil {
		t.Fatalf("results = %+v, want one embedded chunk", results)
	}
}

func TestEmbedChunksFailsAfterBudget(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.EmbedFn = func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
		return nil, fmt.Errorf("upstream down: %w", domain.ErrExternal)
	}

	chunks := []*domain.EnrichedChunk{enriched("c1", "alpha", 1)}
	_, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if !errors.Is(err, domain.ErrExternal) {
		t.Fatalf("EmbedChunks() error = %v, want ErrExternal", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2 (attempt budget)", calls)
	}
}

func TestEmbedChunksPermanentFailureSkipsRetry(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.EmbedFn = func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
		return nil, fmt.Errorf("input rejected: %w", domain.ErrValidation)
	}

	chunks := []*domain.EnrichedChunk{enriched("c1", "alpha", 1)}
	_, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("EmbedChunks() error = %v, want ErrValidation", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on permanent errors)", calls)
	}
}

func TestEmbedChunksDegradesWhenCacheDown(t *testing.T) {
	tb := newTestBatcher(t)
	tb.cache.GetFn = func(key string) ([]byte, error) { return nil, errors.New("redis gone") }
	tb.cache.SetFn = func(key string, value []byte, ttl time.Duration) error { return errors.New("redis gone") }

	chunks := []*domain.EnrichedChunk{
		enriched("c1", "alpha", 1),
		enriched("c2", "beta", 1),
	}
	ctx := context.Background()
	for run := 0; run < 2; run++ {
		results, err := tb.batcher.EmbedChunks(ctx, chunks, domain.EmbeddingTaskPassage)
		if err != nil {
			t.Fatalf("run %d: EmbedChunks() error = %v", run, err)
		}
		for i := range results {
			if results[i].Dense == nil {
				t.Errorf("run %d: results[%d].Dense is nil", run, i)
			}
			if results[i].FromCache {
				t.Errorf("run %d: results[%d].FromCache = true with cache down", run, i)
			}
		}
	}
	if calls := tb.provider.Calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2 (every run recomputes)", calls)
	}
}

func TestEmbedChunksCountsMissingTokens(t *testing.T) {
	tb := newTestBatcher(t)
	chunks := []*domain.EnrichedChunk{enriched("c1", "one two three four", 0)}

	results, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}
	if results[0].TokenCount != 4 {
		t.Errorf("TokenCount = %d, want 4 (recounted)", results[0].TokenCount)
	}
}

func TestEmbedChunksRejectsShortProviderResponse(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.EmbedFn = func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
		return [][]float32{}, nil
	}

	chunks := []*domain.EnrichedChunk{enriched("c1", "alpha", 1)}
	_, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if !errors.Is(err, domain.ErrExternal) {
		t.Fatalf("EmbedChunks() error = %v, want ErrExternal", err)
	}
}

func TestEmbedChunksRejectsWrongDimensions(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.EmbedFn = func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 2, 3} // provider configured for Dim=8
		}
		return out, nil
	}

	chunks := []*domain.EnrichedChunk{enriched("c1", "alpha", 1)}
	_, err := tb.batcher.EmbedChunks(context.Background(), chunks, domain.EmbeddingTaskPassage)
	if !errors.Is(err, domain.ErrExternal) {
		t.Fatalf("EmbedChunks() error = %v, want ErrExternal", err)
	}
}

func TestEmbedChunksEmptyInput(t *testing.T) {
	tb := newTestBatcher(t)
	results, err := tb.batcher.EmbedChunks(context.Background(), nil, domain.EmbeddingTaskPassage)
	if err != nil {
		t.Fatalf("EmbedChunks() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
	if calls := tb.provider.Calls.Load(); calls != 0 {
		t.Errorf("provider calls = %d, want 0", calls)
	}
}

func TestEmbedQuery(t *testing.T) {
	tb := newTestBatcher(t)
	ctx := context.Background()

	dense, err := tb.batcher.EmbedQuery(ctx, "what is late chunking")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	want := mocks.DeterministicVector("what is late chunking", tb.provider.Dim)
	if !reflect.DeepEqual(dense, want) {
		t.Error("EmbedQuery() vector mismatch")
	}
	if task := tb.provider.LastTask(); task != domain.EmbeddingTaskQuery {
		t.Errorf("task = %q, want query", task)
	}
	if tb.provider.LastLateChunking() {
		t.Error("late chunking requested for a single query")
	}

	// Second call must come from cache.
	if _, err := tb.batcher.EmbedQuery(ctx, "what is late chunking"); err != nil {
		t.Fatalf("cached EmbedQuery() error = %v", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 1 {
		t.Errorf("provider calls = %d, want 1", calls)
	}
}

func TestEmbedQueryRejectsEmpty(t *testing.T) {
	tb := newTestBatcher(t)
	if _, err := tb.batcher.EmbedQuery(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("EmbedQuery(\"\") error = %v, want ErrValidation", err)
	}
}

func TestEmbedQueryRejectsOversizedQuery(t *testing.T) {
	tb := newTestBatcher(t)
	tb.provider.MaxContext = 3

	_, err := tb.batcher.EmbedQuery(context.Background(), "one two three four five")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("EmbedQuery() error = %v, want ErrValidation", err)
	}
	if calls := tb.provider.Calls.Load(); calls != 0 {
		t.Errorf("provider calls = %d, want 0", calls)
	}
}
