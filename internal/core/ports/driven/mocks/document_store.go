package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// MockDocumentStore is a mock implementation of DocumentStore for testing.
// It reproduces the store's atomicity contracts with a single mutex.
type MockDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*domain.Document

	// Custom behavior hooks (optional)
	FindOrCreateFn func(doc *domain.Document) (*domain.Document, bool, error)
	DecrementFn    func(originalID string) (int, error)
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		docs: make(map[string]*domain.Document),
	}
}

func (m *MockDocumentStore) FindOrCreateOriginal(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	if m.FindOrCreateFn != nil {
		return m.FindOrCreateFn(doc)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.docs {
		if existing.ContentHash == doc.ContentHash && existing.IsOriginal() {
			cp := *existing
			return &cp, false, nil
		}
	}

	stored := *doc
	stored.RefCount = 1
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.docs[stored.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *MockDocumentStore) CreateReference(ctx context.Context, ref *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.docs[ref.OriginalID]
	if !ok || !original.IsOriginal() {
		return domain.ErrNotFound
	}
	original.RefCount++
	original.UpdatedAt = time.Now()

	stored := *ref
	stored.RefCount = 0
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.docs[stored.ID] = &stored
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MockDocumentStore) GetByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.docs {
		if doc.ContentHash == contentHash && doc.IsOriginal() {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockDocumentStore) ListReferences(ctx context.Context, originalID string) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []*domain.Document
	for _, doc := range m.docs {
		if doc.OriginalID == originalID {
			cp := *doc
			refs = append(refs, &cp)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (m *MockDocumentStore) ListByCourse(ctx context.Context, orgID, courseID string, limit, offset int) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []*domain.Document
	for _, doc := range m.docs {
		if doc.OrgID == orgID && doc.CourseID == courseID {
			cp := *doc
			docs = append(docs, &cp)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	if offset >= len(docs) {
		return nil, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

func (m *MockDocumentStore) UpdateIndexState(ctx context.Context, id string, state domain.IndexState, indexError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.IndexState = state
	doc.IndexError = indexError
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) DecrementRefCount(ctx context.Context, originalID string) (int, error) {
	if m.DecrementFn != nil {
		return m.DecrementFn(originalID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[originalID]
	if !ok || !doc.IsOriginal() {
		return 0, domain.ErrNotFound
	}
	if doc.RefCount > 0 {
		doc.RefCount--
	}
	doc.UpdatedAt = time.Now()
	return doc.RefCount, nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *MockDocumentStore) Count(ctx context.Context, orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, doc := range m.docs {
		if doc.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

// Helper methods for testing

func (m *MockDocumentStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*domain.Document)
}

func (m *MockDocumentStore) Put(doc *domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.docs[doc.ID] = &cp
}

func (m *MockDocumentStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
