package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"external", ErrExternal, true},
		{"timeout", ErrTimeout, true},
		{"conflict", ErrConflict, true},
		{"wrapped external", fmt.Errorf("upsert batch 3: %w", ErrExternal), true},
		{"validation", ErrValidation, false},
		{"quota", ErrQuotaExceeded, false},
		{"corruption", ErrCorruption, false},
		{"not found", ErrNotFound, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", ErrValidation, true},
		{"quota", ErrQuotaExceeded, true},
		{"corruption", fmt.Errorf("hash mismatch: %w", ErrCorruption), true},
		{"external", ErrExternal, false},
		{"timeout", ErrTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Permanent(tt.err); got != tt.want {
				t.Errorf("Permanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
