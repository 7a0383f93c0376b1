package driving

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// SearchService handles hybrid retrieval over a tenant's indexed content
type SearchService interface {
	// Search runs dense and sparse retrieval in parallel, fuses the ranked
	// lists and returns the top results scoped to the tenant.
	Search(ctx context.Context, query string, tenant domain.Tenant, opts domain.SearchOptions) (*domain.SearchResult, error)

	// InvalidateCourse drops every cached response for a course. Called on
	// content-affecting events, not left to TTL expiry.
	InvalidateCourse(ctx context.Context, orgID, courseID string) error
}
