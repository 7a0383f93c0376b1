package driving

import (
	"context"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// IngestService drives the content lifecycle: upload, dedup, indexing and
// removal. The HTTP API layer and the background worker both consume it.
type IngestService interface {
	// Ingest registers an upload for a tenant. Identical content already
	// indexed anywhere on the platform is deduplicated: a reference row is
	// created and the original's vectors are duplicated under the new
	// tenancy without calling the embedding provider.
	Ingest(ctx context.Context, upload domain.Upload, tenant domain.Tenant) (*domain.IngestResult, error)

	// Index runs the full indexing pipeline for a pending document. Invoked
	// by the worker after Ingest enqueues the document.
	Index(ctx context.Context, documentID string) error

	// Delete removes a document, settles reference counts and destroys the
	// physical artifact when the last holder leaves.
	Delete(ctx context.Context, documentID string) (*domain.DeleteResult, error)

	// GetDocument returns a document's current lifecycle state
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
}

// MaintenanceService runs the recurring background duties
type MaintenanceService interface {
	// Start begins the maintenance loop
	Start(ctx context.Context) error

	// Stop stops the maintenance loop
	Stop(ctx context.Context) error

	// ExportStats snapshots the live corpus counters to durable storage
	ExportStats(ctx context.Context) error

	// SweepCourse invalidates the course's search caches and re-enqueues
	// its failed documents
	SweepCourse(ctx context.Context, orgID, courseID string) error
}
