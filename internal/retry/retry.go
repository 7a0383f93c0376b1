// Package retry implements the bounded exponential backoff applied to calls
// against external collaborators. Permanent failure classes are surfaced
// immediately; transient ones are re-attempted with growing, jittered delays.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
)

// Policy describes how an operation is re-attempted. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	// MaxAttempts bounds the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt. Each further
	// failure doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration
	// Jitter is the fraction of each delay randomized in both directions,
	// in [0, 1]. Zero keeps delays exact, which tests rely on.
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. Nil means
	// domain.Retryable.
	RetryIf func(error) bool
}

// DefaultPolicy returns the policy used for provider and store calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, fails permanently, exhausts the attempt
// budget or the context ends. The returned error is fn's last error, wrapped
// with op when the budget ran out.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = domain.Retryable
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryIf(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return fmt.Errorf("%s: %d attempts: %w", op, p.MaxAttempts, err)
}

// delay computes the wait after the given zero-based failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return d
}
