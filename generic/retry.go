package generic

import (
	"context"
	"time"
)

// =============================================================================
// RETRY - Bounded retry for store calls
// =============================================================================

// RetryPolicy bounds how often and how long a retryable operation is
// attempted. Transient store failures back off exponentially from
// BaseDelay up to MaxDelay, and so does a lock held by another process,
// which needs time to finish. Other conflicts are retried immediately since
// the caller recomputes from a fresh read anyway.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy tries three times with 200ms, 400ms waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Backoff returns the wait before the given attempt (attempt 0 never waits).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned. ctx bounds the waits.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && (IsTransient(lastErr) || IsLockHeld(lastErr)) {
			if wait := p.Backoff(attempt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
