package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// VectorFilter narrows vector store queries and deletes. OrgID and CourseID
// are applied store-side on every search; zero-value fields are omitted.
type VectorFilter struct {
	OrgID       string
	CourseID    string
	DocumentID  string
	HasCode     *bool
	HasFormulas *bool
	HasTables   *bool
}

// VectorStore handles vector point persistence and retrieval (Qdrant)
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist
	EnsureCollection(ctx context.Context, denseDimensions int) error

	// Upsert writes points by ID, overwriting existing ones. The call
	// returns after the store has committed the batch.
	Upsert(ctx context.Context, points []*domain.VectorPoint) error

	// QueryDense returns the top-limit points by dense similarity
	QueryDense(ctx context.Context, vector []float32, filter VectorFilter, limit int) ([]*domain.ScoredPoint, error)

	// QuerySparse returns the top-limit points by sparse (BM25) similarity
	QuerySparse(ctx context.Context, vector domain.SparseVector, filter VectorFilter, limit int) ([]*domain.ScoredPoint, error)

	// ScrollByDocument pages through a document's points with vectors
	// included, for duplication without re-embedding.
	ScrollByDocument(ctx context.Context, documentID string, limit int, offset string) (points []*domain.VectorPoint, next string, err error)

	// DeleteByDocument removes every point belonging to a document
	DeleteByDocument(ctx context.Context, documentID string) error

	// CountByDocument returns the number of points stored for a document
	CountByDocument(ctx context.Context, documentID string) (int, error)

	// HealthCheck verifies the vector store is reachable
	HealthCheck(ctx context.Context) error
}
