package driven

import (
	"context"
	"io"
)

// BlobStore keeps the raw uploaded artifacts (MinIO / S3). One object per
// original document; references share the original's object.
type BlobStore interface {
	// Put stores an artifact under the given key
	Put(ctx context.Context, key string, contentType string, data []byte) error

	// Get retrieves an artifact. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an artifact; missing objects are not an error
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the blob backend is reachable
	HealthCheck(ctx context.Context) error
}
