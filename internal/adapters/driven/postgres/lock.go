package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// AdvisoryLock implements the duty lock on pg_try_advisory_lock for
// deployments that run the queue on Postgres and have no Redis. Advisory
// locks are session-scoped rather than TTL-based: the ttl argument is
// ignored, Extend is a no-op, and a lost connection releases everything
// the session held.
type AdvisoryLock struct {
	db *DB
}

// NewAdvisoryLock creates a Postgres-backed duty lock.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

// lockKey folds a duty name into the 64-bit key space advisory locks use.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("lectern:lock:" + name))
	return int64(h.Sum64())
}

// Acquire takes the named lock without blocking. False means another
// session has it. The ttl is ignored; the lock lives until Release or the
// end of the session.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(name)).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Release drops the named lock. Unlocking a lock this session does not hold
// returns false from Postgres, which is not an error here.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	var released bool
	return l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey(name)).Scan(&released)
}

// Extend is a no-op: advisory locks have no TTL to push out.
func (l *AdvisoryLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	return nil
}

// Ping checks the database connection.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
