package mocks

import (
	"context"
	"strings"
)

// MockConverter is a mock implementation of DocumentConverter for testing.
// It passes markdown through and echoes everything else.
type MockConverter struct {
	// Custom behavior hooks (optional)
	ConvertFn func(mimeType string, content []byte) (string, error)
}

// NewMockConverter creates a new MockConverter
func NewMockConverter() *MockConverter {
	return &MockConverter{}
}

func (m *MockConverter) Convert(ctx context.Context, mimeType string, content []byte) (string, error) {
	if m.ConvertFn != nil {
		return m.ConvertFn(mimeType, content)
	}
	return string(content), nil
}

func (m *MockConverter) Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}
