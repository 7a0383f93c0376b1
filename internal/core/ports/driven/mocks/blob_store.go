package mocks

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockBlobStore is a mock implementation of BlobStore for testing
type MockBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Custom behavior hooks (optional)
	PutFn func(key string, contentType string, data []byte) error
}

// NewMockBlobStore creates a new MockBlobStore
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{objects: make(map[string][]byte)}
}

func (m *MockBlobStore) Put(ctx context.Context, key string, contentType string, data []byte) error {
	if m.PutFn != nil {
		return m.PutFn(key, contentType, data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

func (m *MockBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MockBlobStore) HealthCheck(ctx context.Context) error { return nil }

// Helper methods for testing

func (m *MockBlobStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MockBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
