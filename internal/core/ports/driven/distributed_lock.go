package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates recurring duties across instances: the
// maintenance loop takes a lock per duty so stats exports and course sweeps
// run on exactly one instance per cycle.
type DistributedLock interface {
	// Acquire takes the named lock for at most ttl. It does not block:
	// false means another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the named lock. Releasing a lock this instance does
	// not hold is not an error; TTL-based backends expire it anyway.
	Release(ctx context.Context, name string) error

	// Extend pushes out the TTL of a held lock. Backends without TTLs
	// treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
