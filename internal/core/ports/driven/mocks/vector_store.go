package mocks

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// MockVectorStore is a mock implementation of VectorStore for testing. It
// stores points in memory and answers queries with naive exact scoring,
// which is enough for rank-order assertions.
type MockVectorStore struct {
	mu     sync.RWMutex
	points map[string]*domain.VectorPoint

	UpsertCalls  int
	CollectionOK bool

	// Custom behavior hooks (optional)
	UpsertFn      func(points []*domain.VectorPoint) error
	QueryDenseFn  func(vector []float32, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error)
	QuerySparseFn func(vector domain.SparseVector, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error)
}

// NewMockVectorStore creates a new MockVectorStore
func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{
		points: make(map[string]*domain.VectorPoint),
	}
}

func (m *MockVectorStore) EnsureCollection(ctx context.Context, denseDimensions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CollectionOK = true
	return nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, points []*domain.VectorPoint) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(points)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	for _, p := range points {
		cp := *p
		m.points[p.ID] = &cp
	}
	return nil
}

func matches(p *domain.VectorPoint, f driven.VectorFilter) bool {
	if f.OrgID != "" && p.Payload.OrgID != f.OrgID {
		return false
	}
	if f.CourseID != "" && p.Payload.CourseID != f.CourseID {
		return false
	}
	if f.DocumentID != "" && p.Payload.DocumentID != f.DocumentID {
		return false
	}
	if f.HasCode != nil && p.Payload.HasCode != *f.HasCode {
		return false
	}
	if f.HasFormulas != nil && p.Payload.HasFormulas != *f.HasFormulas {
		return false
	}
	if f.HasTables != nil && p.Payload.HasTables != *f.HasTables {
		return false
	}
	return true
}

func (m *MockVectorStore) QueryDense(ctx context.Context, vector []float32, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error) {
	if m.QueryDenseFn != nil {
		return m.QueryDenseFn(vector, filter, limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*domain.ScoredPoint
	for _, p := range m.points {
		if !matches(p, filter) {
			continue
		}
		hits = append(hits, &domain.ScoredPoint{ID: p.ID, Score: dot(vector, p.Dense), Payload: p.Payload})
	}
	sortHits(hits)
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MockVectorStore) QuerySparse(ctx context.Context, vector domain.SparseVector, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error) {
	if m.QuerySparseFn != nil {
		return m.QuerySparseFn(vector, filter, limit)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*domain.ScoredPoint
	for _, p := range m.points {
		if !matches(p, filter) {
			continue
		}
		score := sparseDot(vector, p.Sparse)
		if score == 0 {
			continue
		}
		hits = append(hits, &domain.ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sortHits(hits)
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MockVectorStore) ScrollByDocument(ctx context.Context, documentID string, limit int, offset string) ([]*domain.VectorPoint, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*domain.VectorPoint
	for _, p := range m.points {
		if p.Payload.DocumentID == documentID {
			cp := *p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := 0
	if offset != "" {
		start, _ = strconv.Atoi(offset)
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next, nil
}

func (m *MockVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.points {
		if p.Payload.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MockVectorStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.points {
		if p.Payload.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (m *MockVectorStore) HealthCheck(ctx context.Context) error { return nil }

// Helper methods for testing

func (m *MockVectorStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]*domain.VectorPoint)
	m.UpsertCalls = 0
}

// Seed stores points directly, bypassing any UpsertFn hook. Lets a test
// simulate an upload that committed points before reporting failure.
func (m *MockVectorStore) Seed(points []*domain.VectorPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		cp := *p
		m.points[p.ID] = &cp
	}
}

func (m *MockVectorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func (m *MockVectorStore) Point(id string) *domain.VectorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.points[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func sparseDot(a, b domain.SparseVector) float64 {
	bv := make(map[uint32]float32, len(b.Indices))
	for i, idx := range b.Indices {
		bv[idx] = b.Values[i]
	}
	var sum float64
	for i, idx := range a.Indices {
		if v, ok := bv[idx]; ok {
			sum += float64(a.Values[i]) * float64(v)
		}
	}
	return sum
}

// sortHits orders by descending score with ID as the stable tiebreaker
func sortHits(hits []*domain.ScoredPoint) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
