package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// DocumentStore handles document persistence (PostgreSQL)
type DocumentStore interface {
	// FindOrCreateOriginal atomically resolves a content hash to its original
	// document. When no original exists the given document is inserted and
	// returned with created=true. When one exists (including when a concurrent
	// insert wins the race) the existing original is returned with
	// created=false.
	FindOrCreateOriginal(ctx context.Context, doc *domain.Document) (original *domain.Document, created bool, err error)

	// CreateReference inserts a reference row pointing at an original and
	// increments the original's reference count in the same transaction.
	CreateReference(ctx context.Context, ref *domain.Document) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetByHash retrieves the original document for a content hash
	GetByHash(ctx context.Context, contentHash string) (*domain.Document, error)

	// ListReferences returns the live references pointing at an original
	ListReferences(ctx context.Context, originalID string) ([]*domain.Document, error)

	// ListByCourse retrieves documents in a course with pagination
	ListByCourse(ctx context.Context, orgID, courseID string, limit, offset int) ([]*domain.Document, error)

	// UpdateIndexState transitions a document's lifecycle state. The error
	// message is stored only for the failed state.
	UpdateIndexState(ctx context.Context, id string, state domain.IndexState, indexError string) error

	// DecrementRefCount atomically decrements an original's reference count
	// and returns the remaining count.
	DecrementRefCount(ctx context.Context, originalID string) (remaining int, err error)

	// Delete removes a document row
	Delete(ctx context.Context, id string) error

	// Count returns total document count for an organisation
	Count(ctx context.Context, orgID string) (int, error)
}

// ChunkStore handles chunk persistence (PostgreSQL)
type ChunkStore interface {
	// SaveBatch saves a document's chunks in a transaction
	SaveBatch(ctx context.Context, chunks []*domain.Chunk) error

	// GetByDocument retrieves all chunks for a document ordered by level and ordinal
	GetByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)

	// GetByIDs retrieves chunks by ID
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Chunk, error)

	// DeleteByDocument deletes all chunks for a document
	DeleteByDocument(ctx context.Context, documentID string) error
}
