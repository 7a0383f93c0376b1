package driven

import "context"

// DocumentConverter turns an uploaded artifact into markdown. The real
// conversion service (PDF, DOCX, OCR) lives behind this boundary; markdown
// and plain text pass through unchanged.
type DocumentConverter interface {
	// Convert returns the markdown rendering of the artifact. Page
	// boundaries are marked with comment anchors the enricher understands.
	Convert(ctx context.Context, mimeType string, content []byte) (string, error)

	// Supports reports whether the converter accepts the MIME type
	Supports(mimeType string) bool
}
