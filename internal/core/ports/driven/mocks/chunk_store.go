package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockChunkStore is a mock implementation of ChunkStore for testing
type MockChunkStore struct {
	mu         sync.RWMutex
	chunks     map[string]*domain.Chunk
	byDocument map[string][]*domain.Chunk
}

// NewMockChunkStore creates a new MockChunkStore
func NewMockChunkStore() *MockChunkStore {
	return &MockChunkStore{
		chunks:     make(map[string]*domain.Chunk),
		byDocument: make(map[string][]*domain.Chunk),
	}
}

func (m *MockChunkStore) SaveBatch(ctx context.Context, chunks []*domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		cp := *chunk
		m.chunks[chunk.ID] = &cp

		found := false
		for i, c := range m.byDocument[chunk.DocumentID] {
			if c.ID == chunk.ID {
				m.byDocument[chunk.DocumentID][i] = &cp
				found = true
				break
			}
		}
		if !found {
			m.byDocument[chunk.DocumentID] = append(m.byDocument[chunk.DocumentID], &cp)
		}
	}
	return nil
}

func (m *MockChunkStore) GetByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := make([]*domain.Chunk, len(m.byDocument[documentID]))
	copy(chunks, m.byDocument[documentID])
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Level != chunks[j].Level {
			return chunks[i].Level == domain.ChunkLevelParent
		}
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
	return chunks, nil
}

func (m *MockChunkStore) GetByIDs(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Chunk
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range m.byDocument[documentID] {
		delete(m.chunks, chunk.ID)
	}
	delete(m.byDocument, documentID)
	return nil
}

// Helper methods for testing

func (m *MockChunkStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]*domain.Chunk)
	m.byDocument = make(map[string][]*domain.Chunk)
}

func (m *MockChunkStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}
