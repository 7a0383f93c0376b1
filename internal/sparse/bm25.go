// Package sparse builds the BM25-weighted term vectors behind the lexical
// half of hybrid search. Scoring is a pure function of the input text, a
// corpus statistics snapshot and the tuning parameters, so two processes
// holding the same snapshot produce identical vectors.
package sparse

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// Scoring and hashing defaults.
const (
	DefaultK1        = 1.5
	DefaultB         = 0.75
	DefaultVocabSize = 100_000
)

// Config holds the BM25 tuning parameters and the size of the hashed
// vocabulary.
type Config struct {
	// K1 controls term-frequency saturation.
	K1 float64
	// B controls length normalization. Zero disables it entirely.
	B float64
	// VocabSize is the modulus applied to hashed terms. Distinct terms may
	// collide on a dimension; their scores are summed rather than rejected.
	VocabSize uint32
}

// DefaultConfig returns the production scoring parameters.
func DefaultConfig() Config {
	return Config{
		K1:        DefaultK1,
		B:         DefaultB,
		VocabSize: DefaultVocabSize,
	}
}

// Validate checks the configuration for values the scorer cannot work with.
func (c Config) Validate() error {
	if c.K1 <= 0 {
		return fmt.Errorf("k1 must be positive, got %v", c.K1)
	}
	if c.B < 0 || c.B > 1 {
		return fmt.Errorf("b must be within [0, 1], got %v", c.B)
	}
	if c.VocabSize == 0 {
		return fmt.Errorf("vocab size must be positive")
	}
	return nil
}

// Generator scores chunk and query text against a corpus snapshot.
type Generator struct {
	cfg Config
}

// NewGenerator creates a Generator after validating the configuration.
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sparse config: %w", err)
	}
	return &Generator{cfg: cfg}, nil
}

// Generate computes the sparse vector for text against the given statistics
// snapshot. A nil snapshot is treated as an empty corpus. The result holds
// only nonzero dimensions, sorted ascending by index, and is reproducible
// bit for bit across calls and processes for identical inputs.
func (g *Generator) Generate(text string, stats *domain.CorpusStatistics) domain.SparseVector {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return domain.SparseVector{}
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	distinct := make([]string, 0, len(tf))
	for t := range tf {
		distinct = append(distinct, t)
	}
	// Terms are scored in sorted order so colliding dimensions accumulate
	// their float contributions in a fixed sequence.
	sort.Strings(distinct)

	var n, avgdl float64
	if stats != nil {
		n = float64(stats.TotalChunks)
		avgdl = stats.AvgChunkLength()
	}
	length := float64(len(terms))
	if avgdl <= 0 {
		avgdl = length
	}

	acc := make(map[uint32]float64, len(distinct))
	for _, term := range distinct {
		var df float64
		if stats != nil {
			df = float64(stats.DocumentFrequency[term])
		}
		weight := idf(n, df)
		if weight == 0 {
			continue
		}
		f := float64(tf[term])
		score := weight * (f * (g.cfg.K1 + 1)) / (f + g.cfg.K1*(1-g.cfg.B+g.cfg.B*length/avgdl))
		acc[g.dimension(term)] += score
	}
	if len(acc) == 0 {
		return domain.SparseVector{}
	}

	indices := make([]uint32, 0, len(acc))
	for idx := range acc {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(acc[idx])
	}
	return domain.SparseVector{Indices: indices, Values: values}
}

// dimension maps a term onto a vocabulary slot. FNV-1a keeps the mapping
// stable across processes and restarts.
func (g *Generator) dimension(term string) uint32 {
	h := fnv.New64a()
	h.Write([]byte(term))
	return uint32(h.Sum64() % uint64(g.cfg.VocabSize))
}

// idf is the smoothed inverse document frequency
// ln((n - df + 0.5) / (df + 0.5) + 1). Positive for every df <= n; clamped
// to zero when a stale snapshot reports df beyond n.
func idf(n, df float64) float64 {
	ratio := (n - df + 0.5) / (df + 0.5)
	if ratio < 0 {
		ratio = 0
	}
	return math.Log(ratio + 1)
}
