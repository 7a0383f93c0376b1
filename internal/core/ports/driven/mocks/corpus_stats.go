package mocks

import (
	"context"
	"sync"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockCorpusStats is a mock implementation of CorpusStatsStore for testing
type MockCorpusStats struct {
	mu          sync.RWMutex
	df          map[string]int64
	totalChunks int64
	totalTokens int64

	// Custom behavior hooks (optional)
	AddChunkFn func(terms []string, tokenLength int) error
	SnapshotFn func(terms []string) (*domain.CorpusStatistics, error)
}

// NewMockCorpusStats creates a new MockCorpusStats
func NewMockCorpusStats() *MockCorpusStats {
	return &MockCorpusStats{df: make(map[string]int64)}
}

func (m *MockCorpusStats) AddChunk(ctx context.Context, terms []string, tokenLength int) error {
	if m.AddChunkFn != nil {
		return m.AddChunkFn(terms, tokenLength)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range distinct(terms) {
		m.df[t]++
	}
	m.totalChunks++
	m.totalTokens += int64(tokenLength)
	return nil
}

func (m *MockCorpusStats) RemoveChunk(ctx context.Context, terms []string, tokenLength int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range distinct(terms) {
		if m.df[t] > 0 {
			m.df[t]--
		}
	}
	if m.totalChunks > 0 {
		m.totalChunks--
	}
	m.totalTokens -= int64(tokenLength)
	if m.totalTokens < 0 {
		m.totalTokens = 0
	}
	return nil
}

func (m *MockCorpusStats) Snapshot(ctx context.Context, terms []string) (*domain.CorpusStatistics, error) {
	if m.SnapshotFn != nil {
		return m.SnapshotFn(terms)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	df := make(map[string]int64, len(terms))
	for _, t := range terms {
		df[t] = m.df[t]
	}
	return &domain.CorpusStatistics{
		TotalChunks:       m.totalChunks,
		TotalTokens:       m.totalTokens,
		DocumentFrequency: df,
	}, nil
}

func (m *MockCorpusStats) Export(ctx context.Context) (*domain.CorpusStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	df := make(map[string]int64, len(m.df))
	for t, n := range m.df {
		df[t] = n
	}
	return &domain.CorpusStatistics{
		TotalChunks:       m.totalChunks,
		TotalTokens:       m.totalTokens,
		DocumentFrequency: df,
	}, nil
}

func (m *MockCorpusStats) Import(ctx context.Context, stats *domain.CorpusStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.df = make(map[string]int64, len(stats.DocumentFrequency))
	for t, n := range stats.DocumentFrequency {
		m.df[t] = n
	}
	m.totalChunks = stats.TotalChunks
	m.totalTokens = stats.TotalTokens
	return nil
}

func (m *MockCorpusStats) Ping(ctx context.Context) error { return nil }

// distinct drops repeated terms so document frequency moves once per chunk
func distinct(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Helper methods for testing

func (m *MockCorpusStats) Seed(df map[string]int64, totalChunks, totalTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.df = make(map[string]int64, len(df))
	for t, n := range df {
		m.df[t] = n
	}
	m.totalChunks = totalChunks
	m.totalTokens = totalTokens
}

func (m *MockCorpusStats) DF(term string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.df[term]
}

// MockSnapshotStore is a mock implementation of CorpusSnapshotStore
type MockSnapshotStore struct {
	mu        sync.Mutex
	snapshots []*domain.CorpusStatistics
}

// NewMockSnapshotStore creates a new MockSnapshotStore
func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{}
}

func (m *MockSnapshotStore) SaveSnapshot(ctx context.Context, stats *domain.CorpusStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, stats)
	return nil
}

func (m *MockSnapshotStore) LatestSnapshot(ctx context.Context) (*domain.CorpusStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return nil, domain.ErrNotFound
	}
	return m.snapshots[len(m.snapshots)-1], nil
}

func (m *MockSnapshotStore) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) <= keep {
		return 0, nil
	}
	pruned := len(m.snapshots) - keep
	m.snapshots = m.snapshots[pruned:]
	return pruned, nil
}

// Saved returns how many snapshots have been stored
func (m *MockSnapshotStore) Saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}
