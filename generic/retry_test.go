package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/vacation-engine/generic"
)

func TestErrorClassification(t *testing.T) {
	transient := generic.Unavailable("list cycles", errors.New("database is locked"))
	conflict := fmt.Errorf("update: %w", &generic.ConflictError{Key: "emp-1/2024-01-01", ExpectedVersion: 1, ActualVersion: 2})

	assert.True(t, generic.IsTransient(transient))
	assert.True(t, generic.IsRetryable(transient))
	assert.False(t, generic.IsConflict(transient))
	assert.Contains(t, transient.Error(), "list cycles")

	assert.True(t, generic.IsConflict(conflict))
	assert.True(t, generic.IsRetryable(conflict))
	assert.False(t, generic.IsTransient(conflict))

	assert.False(t, generic.IsRetryable(generic.ErrNotFound))
	assert.True(t, generic.IsNotFound(fmt.Errorf("employee %w", generic.ErrNotFound)))
	assert.Nil(t, generic.Unavailable("op", nil))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := generic.RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(10))
}

func TestRetryPolicy_Do(t *testing.T) {
	fast := generic.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(int) error {
			calls++
			if calls < 3 {
				return generic.Unavailable("op", errors.New("busy"))
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(int) error {
			calls++
			return &generic.ConflictError{Key: "k"}
		})
		assert.True(t, generic.IsConflict(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("held lock backs off", func(t *testing.T) {
		policy := generic.RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}
		calls := 0
		start := time.Now()
		err := policy.Do(context.Background(), func(int) error {
			calls++
			return &generic.LockHeldError{Key: "emp-1"}
		})
		assert.True(t, generic.IsLockHeld(err))
		assert.True(t, generic.IsConflict(err))
		assert.Equal(t, 3, calls)
		// 20ms before the second attempt, 40ms before the third.
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("version conflict does not wait", func(t *testing.T) {
		policy := generic.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		calls := 0
		err := policy.Do(context.Background(), func(int) error {
			calls++
			if calls < 3 {
				return &generic.ConflictError{Key: "k"}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(int) error {
			calls++
			return generic.ErrNotFound
		})
		assert.ErrorIs(t, err, generic.ErrNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		slow := generic.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := slow.Do(ctx, func(int) error {
			calls++
			cancel()
			return generic.Unavailable("op", errors.New("busy"))
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		_ = generic.RetryPolicy{}.Do(context.Background(), func(int) error { calls++; return nil })
		assert.Equal(t, 1, calls)
	})
}
