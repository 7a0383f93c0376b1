package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

// Verify interface compliance
var _ driven.CorpusStatsStore = (*CorpusStatsStore)(nil)

const (
	// corpusFrequencyKey holds one hash field per term: its document frequency
	corpusFrequencyKey = "lectern:corpus:df"

	// corpusTotalsKey holds the chunk and token counters
	corpusTotalsKey = "lectern:corpus:totals"

	totalChunksField = "total_chunks"
	totalTokensField = "total_tokens"
)

// CorpusStatsStore implements driven.CorpusStatsStore on Redis hashes.
// HINCRBY keeps increments atomic under concurrent ingestion without any
// locking on the hot path.
type CorpusStatsStore struct {
	client *redis.Client
}

// NewCorpusStatsStore creates a new Redis-backed corpus statistics store
func NewCorpusStatsStore(client *redis.Client) *CorpusStatsStore {
	return &CorpusStatsStore{client: client}
}

// AddChunk records one indexed chunk: each distinct term's document
// frequency is incremented once, and the totals are updated. Terms may
// repeat within a chunk; repeats only count towards tokenLength.
func (s *CorpusStatsStore) AddChunk(ctx context.Context, terms []string, tokenLength int) error {
	pipe := s.client.Pipeline()

	for _, term := range distinctTerms(terms) {
		pipe.HIncrBy(ctx, corpusFrequencyKey, term, 1)
	}
	pipe.HIncrBy(ctx, corpusTotalsKey, totalChunksField, 1)
	pipe.HIncrBy(ctx, corpusTotalsKey, totalTokensField, int64(tokenLength))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record chunk statistics: %w", err)
	}
	return nil
}

// decrementTermScript decrements a term's frequency and drops the field
// once it reaches zero, so removed terms do not linger in the hash.
var decrementTermScript = redis.NewScript(`
	local v = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
	if v <= 0 then
		redis.call("HDEL", KEYS[1], ARGV[1])
	end
	return v
`)

// decrementTotalScript decrements a totals field, clamping at zero so a
// duplicated removal cannot drive the counters negative.
var decrementTotalScript = redis.NewScript(`
	local v = redis.call("HINCRBY", KEYS[1], ARGV[1], -tonumber(ARGV[2]))
	if v < 0 then
		redis.call("HSET", KEYS[1], ARGV[1], 0)
		v = 0
	end
	return v
`)

// RemoveChunk reverses AddChunk when a chunk leaves the corpus
func (s *CorpusStatsStore) RemoveChunk(ctx context.Context, terms []string, tokenLength int) error {
	for _, term := range distinctTerms(terms) {
		if err := decrementTermScript.Run(ctx, s.client, []string{corpusFrequencyKey}, term).Err(); err != nil {
			return fmt.Errorf("failed to decrement term frequency: %w", err)
		}
	}

	if err := decrementTotalScript.Run(ctx, s.client, []string{corpusTotalsKey}, totalChunksField, 1).Err(); err != nil {
		return fmt.Errorf("failed to decrement chunk count: %w", err)
	}
	if err := decrementTotalScript.Run(ctx, s.client, []string{corpusTotalsKey}, totalTokensField, tokenLength).Err(); err != nil {
		return fmt.Errorf("failed to decrement token count: %w", err)
	}
	return nil
}

// Snapshot returns the totals plus document frequencies for the given
// terms. Terms absent from the corpus map to zero.
func (s *CorpusStatsStore) Snapshot(ctx context.Context, terms []string) (*domain.CorpusStatistics, error) {
	pipe := s.client.Pipeline()

	totalsCmd := pipe.HMGet(ctx, corpusTotalsKey, totalChunksField, totalTokensField)
	var termsCmd *redis.SliceCmd
	if len(terms) > 0 {
		termsCmd = pipe.HMGet(ctx, corpusFrequencyKey, terms...)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read corpus statistics: %w", err)
	}

	totals := totalsCmd.Val()
	stats := &domain.CorpusStatistics{
		TotalChunks:       parseHashInt(totals[0]),
		TotalTokens:       parseHashInt(totals[1]),
		DocumentFrequency: make(map[string]int64, len(terms)),
	}

	if termsCmd != nil {
		for i, raw := range termsCmd.Val() {
			if df := parseHashInt(raw); df > 0 {
				stats.DocumentFrequency[terms[i]] = df
			}
		}
	}

	return stats, nil
}

// Export returns the full statistics for persistence
func (s *CorpusStatsStore) Export(ctx context.Context) (*domain.CorpusStatistics, error) {
	pipe := s.client.Pipeline()
	totalsCmd := pipe.HMGet(ctx, corpusTotalsKey, totalChunksField, totalTokensField)
	frequencyCmd := pipe.HGetAll(ctx, corpusFrequencyKey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to export corpus statistics: %w", err)
	}

	totals := totalsCmd.Val()
	stats := &domain.CorpusStatistics{
		TotalChunks:       parseHashInt(totals[0]),
		TotalTokens:       parseHashInt(totals[1]),
		DocumentFrequency: make(map[string]int64),
		ExportedAt:        time.Now(),
	}

	for term, raw := range frequencyCmd.Val() {
		df, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		stats.DocumentFrequency[term] = df
	}

	return stats, nil
}

// Import replaces the live counters with a previously exported snapshot
func (s *CorpusStatsStore) Import(ctx context.Context, stats *domain.CorpusStatistics) error {
	pipe := s.client.TxPipeline()

	pipe.Del(ctx, corpusFrequencyKey, corpusTotalsKey)

	if len(stats.DocumentFrequency) > 0 {
		fields := make(map[string]interface{}, len(stats.DocumentFrequency))
		for term, df := range stats.DocumentFrequency {
			fields[term] = df
		}
		pipe.HSet(ctx, corpusFrequencyKey, fields)
	}

	pipe.HSet(ctx, corpusTotalsKey,
		totalChunksField, stats.TotalChunks,
		totalTokensField, stats.TotalTokens,
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to import corpus statistics: %w", err)
	}
	return nil
}

// Ping checks if the stats backend is healthy
func (s *CorpusStatsStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// distinctTerms collapses repeats so a term occurring many times in one
// chunk still moves its document frequency by exactly one.
func distinctTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// parseHashInt reads an HMGET slot, which is nil when the field is missing
func parseHashInt(raw interface{}) int64 {
	str, ok := raw.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
