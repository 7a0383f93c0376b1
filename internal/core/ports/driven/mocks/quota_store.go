package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockQuotaStore is a mock implementation of QuotaStore for testing.
// Reserve checks the ceiling and increments under one lock, matching the
// real store's atomicity.
type MockQuotaStore struct {
	mu    sync.Mutex
	rows  map[string]*domain.QuotaUsage
	limit int64 // default ceiling for unseen orgs

	// Custom behavior hooks (optional)
	ReserveFn func(orgID string, sizeBytes int64) error
}

// NewMockQuotaStore creates a new MockQuotaStore with the given default limit
func NewMockQuotaStore(defaultLimit int64) *MockQuotaStore {
	return &MockQuotaStore{
		rows:  make(map[string]*domain.QuotaUsage),
		limit: defaultLimit,
	}
}

func (m *MockQuotaStore) row(orgID string) *domain.QuotaUsage {
	r, ok := m.rows[orgID]
	if !ok {
		r = &domain.QuotaUsage{OrgID: orgID, LimitBytes: m.limit}
		m.rows[orgID] = r
	}
	return r
}

func (m *MockQuotaStore) Reserve(ctx context.Context, orgID string, sizeBytes int64) error {
	if m.ReserveFn != nil {
		return m.ReserveFn(orgID, sizeBytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.row(orgID)
	if r.LimitBytes > 0 && r.UsedBytes+sizeBytes > r.LimitBytes {
		return domain.ErrQuotaExceeded
	}
	r.UsedBytes += sizeBytes
	r.Documents++
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MockQuotaStore) Release(ctx context.Context, orgID string, sizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.row(orgID)
	r.UsedBytes -= sizeBytes
	if r.UsedBytes < 0 {
		r.UsedBytes = 0
	}
	if r.Documents > 0 {
		r.Documents--
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MockQuotaStore) Get(ctx context.Context, orgID string) (*domain.QuotaUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.row(orgID)
	return &cp, nil
}

func (m *MockQuotaStore) SetLimit(ctx context.Context, orgID string, limitBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.row(orgID).LimitBytes = limitBytes
	return nil
}
