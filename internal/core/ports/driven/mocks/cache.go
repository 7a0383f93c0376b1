package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockCache is a mock implementation of Cache for testing. TTLs are
// honored so expiry behavior is testable.
type MockCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	Hits   int
	Misses int
	Sets   int

	// Custom behavior hooks (optional)
	GetFn func(key string) ([]byte, error)
	SetFn func(key string, value []byte, ttl time.Duration) error
}

type cacheEntry struct {
	value  []byte
	expiry time.Time
}

// NewMockCache creates a new MockCache
func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[string]cacheEntry)}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFn != nil {
		return m.GetFn(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		m.Misses++
		delete(m.entries, key)
		return nil, domain.ErrNotFound
	}
	m.Hits++
	return entry.value, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.SetFn != nil {
		return m.SetFn(key, value, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	m.entries[key] = cacheEntry{value: value, expiry: expiry}
	m.Sets++
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MockCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

func (m *MockCache) Ping(ctx context.Context) error { return nil }

// Helper methods for testing

func (m *MockCache) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]cacheEntry)
	m.Hits, m.Misses, m.Sets = 0, 0, 0
}

func (m *MockCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
