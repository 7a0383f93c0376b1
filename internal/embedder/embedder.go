// Package embedder turns chunk text into dense vectors. It batches cache
// misses into late-chunking waves sized to the provider's context window,
// caches results by content, and reassembles output in input order no matter
// which entries were served from cache.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/lectern-ai/lectern-core/internal/metrics"
	"github.com/lectern-ai/lectern-core/internal/retry"
)

// Config tunes caching and provider retry behavior.
type Config struct {
	// CacheTTL bounds how long a content-addressed embedding stays valid.
	CacheTTL time.Duration
	// Retry is applied around every provider call.
	Retry retry.Policy
}

// DefaultConfig returns the production cache and retry settings.
func DefaultConfig() Config {
	return Config{
		CacheTTL: time.Hour,
		Retry:    retry.DefaultPolicy(),
	}
}

// Batcher embeds chunks and queries through one provider with a shared
// content-addressed cache.
type Batcher struct {
	cfg      Config
	provider driven.EmbeddingProvider
	tok      driven.Tokenizer
	cache    driven.Cache
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a Batcher. All dependencies are required.
func New(
	cfg Config,
	provider driven.EmbeddingProvider,
	tok driven.Tokenizer,
	cache driven.Cache,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Batcher {
	return &Batcher{
		cfg:      cfg,
		provider: provider,
		tok:      tok,
		cache:    cache,
		logger:   logger.With("component", "embedder"),
		metrics:  collector,
	}
}

// EmbedChunks embeds every chunk with the given task tuning and returns one
// result per chunk, in input order. Chunks are expected to carry the token
// counts the splitter assigned; zero counts are re-counted here.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []*domain.EnrichedChunk, task domain.EmbeddingTask) ([]domain.EmbeddingResult, error) {
	results := make([]domain.EmbeddingResult, len(chunks))

	var misses []int
	for i, chunk := range chunks {
		results[i] = domain.EmbeddingResult{
			ChunkID:    chunk.ID,
			TokenCount: chunk.TokenCount,
		}
		if dense, ok := b.cacheGet(ctx, chunk.Text, task); ok {
			results[i].Dense = dense
			results[i].FromCache = true
			b.metrics.CacheHits.WithLabelValues(metrics.CacheEmbedding).Inc()
			continue
		}
		b.metrics.CacheMisses.WithLabelValues(metrics.CacheEmbedding).Inc()
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return results, nil
	}

	if err := b.countMissing(ctx, chunks, results, misses); err != nil {
		return nil, err
	}

	for _, wave := range b.packWaves(results, misses) {
		texts := make([]string, len(wave))
		waveTokens := 0
		for w, pos := range wave {
			texts[w] = chunks[pos].Text
			waveTokens += results[pos].TokenCount
		}

		vectors, err := b.embed(ctx, texts, task, true)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(wave) {
			return nil, fmt.Errorf("provider returned %d vectors for %d inputs: %w",
				len(vectors), len(wave), domain.ErrExternal)
		}

		for w, pos := range wave {
			results[pos].Dense = vectors[w]
			b.cacheSet(ctx, chunks[pos].Text, task, vectors[w])
		}
		b.metrics.EmbeddedTokens.Add(float64(waveTokens))
		b.logger.Debug("embedded wave",
			"chunks", len(wave), "tokens", waveTokens, "task", string(task))
	}
	return results, nil
}

// EmbedQuery embeds a single query string with query-side tuning.
func (b *Batcher) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrValidation)
	}
	if dense, ok := b.cacheGet(ctx, query, domain.EmbeddingTaskQuery); ok {
		b.metrics.CacheHits.WithLabelValues(metrics.CacheEmbedding).Inc()
		return dense, nil
	}
	b.metrics.CacheMisses.WithLabelValues(metrics.CacheEmbedding).Inc()

	tokens, err := b.tok.CountTokens(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count query tokens: %w", err)
	}
	if max := b.provider.MaxContextTokens(); tokens > max {
		return nil, fmt.Errorf("query of %d tokens exceeds context window %d: %w",
			tokens, max, domain.ErrValidation)
	}

	vectors, err := b.embed(ctx, []string{query}, domain.EmbeddingTaskQuery, false)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for one query: %w",
			len(vectors), domain.ErrExternal)
	}
	b.cacheSet(ctx, query, domain.EmbeddingTaskQuery, vectors[0])
	b.metrics.EmbeddedTokens.Add(float64(tokens))
	return vectors[0], nil
}

// embed calls the provider under the retry policy and validates dimensions.
func (b *Batcher) embed(ctx context.Context, texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
	var vectors [][]float32
	err := b.cfg.Retry.Do(ctx, "embed", func(ctx context.Context) error {
		start := time.Now()
		var callErr error
		vectors, callErr = b.provider.Embed(ctx, texts, task, lateChunking)
		b.metrics.ProviderCalls.WithLabelValues(string(task)).Inc()
		b.metrics.ProviderLatency.WithLabelValues(string(task)).Observe(time.Since(start).Seconds())
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	want := b.provider.Dimensions()
	for i, v := range vectors {
		if len(v) != want {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d: %w",
				i, len(v), want, domain.ErrExternal)
		}
	}
	return vectors, nil
}

// countMissing fills in token counts for miss positions that lack one.
func (b *Batcher) countMissing(ctx context.Context, chunks []*domain.EnrichedChunk, results []domain.EmbeddingResult, misses []int) error {
	var uncounted []int
	for _, pos := range misses {
		if results[pos].TokenCount <= 0 {
			uncounted = append(uncounted, pos)
		}
	}
	if len(uncounted) == 0 {
		return nil
	}
	texts := make([]string, len(uncounted))
	for i, pos := range uncounted {
		texts[i] = chunks[pos].Text
	}
	counts, err := b.tok.CountBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("count chunk tokens: %w", err)
	}
	if len(counts) != len(uncounted) {
		return fmt.Errorf("tokenizer returned %d counts for %d texts: %w",
			len(counts), len(uncounted), domain.ErrExternal)
	}
	for i, pos := range uncounted {
		results[pos].TokenCount = counts[i]
	}
	return nil
}

// packWaves groups miss positions into provider calls whose summed token
// counts stay inside the context window. Order is preserved so late chunking
// sees the document's own reading sequence. An oversized single chunk is
// sent alone rather than dropped.
func (b *Batcher) packWaves(results []domain.EmbeddingResult, misses []int) [][]int {
	budget := b.provider.MaxContextTokens()
	var waves [][]int
	var wave []int
	waveTokens := 0
	for _, pos := range misses {
		tokens := results[pos].TokenCount
		if len(wave) > 0 && waveTokens+tokens > budget {
			waves = append(waves, wave)
			wave = nil
			waveTokens = 0
		}
		wave = append(wave, pos)
		waveTokens += tokens
	}
	if len(wave) > 0 {
		waves = append(waves, wave)
	}
	return waves
}

// cacheGet looks up a content-addressed embedding. Any cache failure is a
// miss; the cache never blocks embedding work.
func (b *Batcher) cacheGet(ctx context.Context, text string, task domain.EmbeddingTask) ([]float32, bool) {
	data, err := b.cache.Get(ctx, b.cacheKey(text, task))
	if err != nil {
		return nil, false
	}
	var dense []float32
	if err := json.Unmarshal(data, &dense); err != nil {
		b.logger.Warn("discarding undecodable cached embedding", "error", err)
		return nil, false
	}
	if len(dense) != b.provider.Dimensions() {
		return nil, false
	}
	return dense, true
}

// cacheSet stores an embedding best-effort.
func (b *Batcher) cacheSet(ctx context.Context, text string, task domain.EmbeddingTask, dense []float32) {
	data, err := json.Marshal(dense)
	if err != nil {
		return
	}
	if err := b.cache.Set(ctx, b.cacheKey(text, task), data, b.cfg.CacheTTL); err != nil {
		b.logger.Warn("embedding cache write failed", "error", err)
	}
}

// cacheKey addresses an embedding by content, task and model, so model
// upgrades and task tuning never serve each other's vectors.
func (b *Batcher) cacheKey(text string, task domain.EmbeddingTask) string {
	sum := sha256.Sum256([]byte(text + "\x00" + string(task)))
	return "emb:" + b.provider.Model() + ":" + hex.EncodeToString(sum[:])
}
