// Package convert implements the document converter port for formats that
// are already text. The real conversion service (PDF, DOCX, OCR) lives
// behind the same port in a separate deployable; this adapter covers the
// upload types the core can index without it.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

var _ driven.DocumentConverter = (*MarkdownConverter)(nil)

// utf8BOM is stripped from uploads saved by Windows editors.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// passthroughTypes are the MIME types accepted as markdown without
// conversion.
var passthroughTypes = map[string]bool{
	"text/markdown":   true,
	"text/x-markdown": true,
	"text/plain":      true,
}

// MarkdownConverter passes textual uploads through unchanged.
type MarkdownConverter struct{}

// NewMarkdownConverter creates the passthrough converter.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

// Supports reports whether the converter accepts the MIME type.
func (c *MarkdownConverter) Supports(mimeType string) bool {
	return passthroughTypes[mimeType]
}

// Convert returns the upload as markdown text. Binary content behind a
// textual MIME type is rejected rather than indexed as garbage.
func (c *MarkdownConverter) Convert(ctx context.Context, mimeType string, content []byte) (string, error) {
	if !c.Supports(mimeType) {
		return "", fmt.Errorf("%w: unsupported mime type %q", domain.ErrValidation, mimeType)
	}

	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", domain.ErrValidation)
	}
	return string(content), nil
}
