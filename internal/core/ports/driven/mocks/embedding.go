package mocks

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider for
// testing. Vectors are deterministic functions of the input text so tests
// can assert identity without fixtures.
type MockEmbeddingProvider struct {
	Dim        int
	MaxContext int
	Calls      atomic.Int64 // number of Embed invocations
	TextsSeen  atomic.Int64 // number of texts across all invocations

	// Custom behavior hooks (optional)
	EmbedFn func(texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error)

	mu       sync.Mutex
	lastTask domain.EmbeddingTask
	lastLate bool
}

// NewMockEmbeddingProvider creates a new MockEmbeddingProvider
func NewMockEmbeddingProvider() *MockEmbeddingProvider {
	return &MockEmbeddingProvider{Dim: 8, MaxContext: 8192}
}

func (m *MockEmbeddingProvider) Embed(ctx context.Context, texts []string, task domain.EmbeddingTask, lateChunking bool) ([][]float32, error) {
	m.Calls.Add(1)
	m.TextsSeen.Add(int64(len(texts)))

	m.mu.Lock()
	m.lastTask = task
	m.lastLate = lateChunking
	m.mu.Unlock()

	if m.EmbedFn != nil {
		return m.EmbedFn(texts, task, lateChunking)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DeterministicVector(text, m.Dim)
	}
	return out, nil
}

func (m *MockEmbeddingProvider) Dimensions() int { return m.Dim }

func (m *MockEmbeddingProvider) MaxContextTokens() int { return m.MaxContext }

func (m *MockEmbeddingProvider) Model() string { return "mock-embed-v1" }

func (m *MockEmbeddingProvider) HealthCheck(ctx context.Context) error { return nil }

func (m *MockEmbeddingProvider) Close() error { return nil }

// LastTask returns the task of the most recent Embed call
func (m *MockEmbeddingProvider) LastTask() domain.EmbeddingTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTask
}

// LastLateChunking returns the lateChunking flag of the most recent Embed call
func (m *MockEmbeddingProvider) LastLateChunking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLate
}

// DeterministicVector derives a stable vector from text for assertions
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed%1000) / 1000.0
	}
	return v
}

// MockTokenizer is a mock implementation of Tokenizer for testing. It
// treats whitespace-separated words as tokens, which keeps chunk budget
// arithmetic exact in tests.
type MockTokenizer struct {
	Calls atomic.Int64

	// Custom behavior hooks (optional)
	CountFn func(text string) (int, error)
}

// NewMockTokenizer creates a new MockTokenizer
func NewMockTokenizer() *MockTokenizer {
	return &MockTokenizer{}
}

func (m *MockTokenizer) CountTokens(ctx context.Context, text string) (int, error) {
	m.Calls.Add(1)
	if m.CountFn != nil {
		return m.CountFn(text)
	}
	return len(strings.Fields(text)), nil
}

func (m *MockTokenizer) CountBatch(ctx context.Context, texts []string) ([]int, error) {
	counts := make([]int, len(texts))
	for i, text := range texts {
		n, err := m.CountTokens(ctx, text)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

func (m *MockTokenizer) SplitByTokens(ctx context.Context, text string, maxTokens int) ([]string, error) {
	m.Calls.Add(1)
	if text == "" {
		return nil, nil
	}

	// Word units keep their trailing whitespace so the pieces concatenate
	// back to the exact input, as the port requires.
	var units []string
	start := 0
	inWord := false
	for i, r := range text {
		switch {
		case inWord && isSpace(r):
			inWord = false
		case !inWord && !isSpace(r) && i > start:
			units = append(units, text[start:i])
			start = i
			inWord = true
		case !inWord && !isSpace(r):
			inWord = true
		}
	}
	units = append(units, text[start:])

	var pieces []string
	for s := 0; s < len(units); s += maxTokens {
		e := s + maxTokens
		if e > len(units) {
			e = len(units)
		}
		pieces = append(pieces, strings.Join(units[s:e], ""))
	}
	return pieces, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
