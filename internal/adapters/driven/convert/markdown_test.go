package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

func TestSupports(t *testing.T) {
	c := NewMarkdownConverter()

	testCases := []struct {
		mimeType string
		want     bool
	}{
		{"text/markdown", true},
		{"text/x-markdown", true},
		{"text/plain", true},
		{"application/pdf", false},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := c.Supports(tc.mimeType); got != tc.want {
			t.Errorf("Supports(%q) = %v, want %v", tc.mimeType, got, tc.want)
		}
	}
}

func TestConvertPassthrough(t *testing.T) {
	c := NewMarkdownConverter()

	input := "# Heading\n\nSome **markdown** text.\n"
	got, err := c.Convert(context.Background(), "text/markdown", []byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != input {
		t.Errorf("content changed: %q", got)
	}
}

func TestConvertStripsBOM(t *testing.T) {
	c := NewMarkdownConverter()

	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("# Heading\n")...)
	got, err := c.Convert(context.Background(), "text/plain", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "# Heading\n" {
		t.Errorf("BOM not stripped: %q", got)
	}
}

func TestConvertRejectsUnsupportedType(t *testing.T) {
	c := NewMarkdownConverter()

	_, err := c.Convert(context.Background(), "application/pdf", []byte("%PDF-1.7"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestConvertRejectsBinaryContent(t *testing.T) {
	c := NewMarkdownConverter()

	_, err := c.Convert(context.Background(), "text/plain", []byte{0xFF, 0xFE, 0x00, 0x01})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
