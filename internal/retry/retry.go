// Package retry provides a bounded-retry policy with per-attempt timeouts
// and exponential backoff, applied uniformly across pipeline phases instead
// of duplicating ad hoc retry loops at each call site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes how a phase retries a failing operation.
// The zero value is not usable; construct policies with NewPolicy or take
// them from configuration.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// AttemptTimeout bounds each individual attempt. Zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration
	// BaseBackoff is the delay before the second attempt; it doubles on
	// each subsequent attempt.
	BaseBackoff time.Duration
}

// NewPolicy creates a policy, applying defaults for zero values:
// 2 attempts, 30 s attempt timeout, 500 ms base backoff.
func NewPolicy(maxAttempts int, attemptTimeout, baseBackoff time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if attemptTimeout == 0 {
		attemptTimeout = 30 * time.Second
	}
	if baseBackoff == 0 {
		baseBackoff = 500 * time.Millisecond
	}
	return Policy{
		MaxAttempts:    maxAttempts,
		AttemptTimeout: attemptTimeout,
		BaseBackoff:    baseBackoff,
	}
}

// Permanent wraps an error to mark it as non-retryable. Do returns it
// immediately without consuming further attempts.
type Permanent struct {
	Err error
}

// Error implements the error interface.
func (p *Permanent) Error() string {
	return p.Err.Error()
}

// Unwrap returns the wrapped error.
func (p *Permanent) Unwrap() error {
	return p.Err
}

// MarkPermanent wraps err so that Do stops retrying. A nil err returns nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do runs fn under the policy: each attempt gets its own deadline, failed
// attempts back off exponentially, and the last error is returned once
// attempts are exhausted. Context cancellation is honored both between
// attempts and, via the derived attempt context, inside them.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := p.BaseBackoff << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}

		// The caller's context expiring ends the whole operation, not
		// just the attempt.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}

		lastErr = err
	}

	return fmt.Errorf("exhausted %d attempts: %w", p.MaxAttempts, lastErr)
}
