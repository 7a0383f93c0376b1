package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the input is malformed or out of range
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a concurrent update raced this one
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded indicates the organisation storage ceiling was hit
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrExternal indicates an upstream provider or store failed
	ErrExternal = errors.New("external service error")

	// ErrTimeout indicates an upstream call exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrCorruption indicates stored data failed an integrity check
	ErrCorruption = errors.New("data corruption")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrIndexInProgress indicates the document is already being indexed
	ErrIndexInProgress = errors.New("indexing already in progress")
)

// Retryable reports whether err belongs to a class that may succeed on a
// later attempt. Conflicts are retried after re-reading current state.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternal) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrConflict)
}

// Permanent reports whether err must fail fast without retry.
func Permanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrCorruption)
}
