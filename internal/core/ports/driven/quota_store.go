package driven

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// QuotaStore tracks per-organisation storage accounting (PostgreSQL).
// Every document row, original or reference, counts its full logical size
// against its organisation regardless of physical dedup.
type QuotaStore interface {
	// Reserve adds sizeBytes and one document to the organisation's usage.
	// It fails with domain.ErrQuotaExceeded when the ceiling would be
	// crossed, leaving usage unchanged. The check and the increment are one
	// atomic operation.
	Reserve(ctx context.Context, orgID string, sizeBytes int64) error

	// Release subtracts sizeBytes and one document from the organisation's
	// usage. Usage never drops below zero.
	Release(ctx context.Context, orgID string, sizeBytes int64) error

	// Get returns the organisation's current accounting row
	Get(ctx context.Context, orgID string) (*domain.QuotaUsage, error)

	// SetLimit updates the organisation's ceiling
	SetLimit(ctx context.Context, orgID string, limitBytes int64) error
}
