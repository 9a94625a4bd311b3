/*
errors.go - Centralized error types shared by stores and the engine

PURPOSE:
  Store adapters translate driver-specific failures into these errors so
  the reconciler can decide what to retry without knowing which database
  it is talking to.

ERROR CATEGORIES:
  1. Store availability - transient failures, retried with backoff
  2. Concurrency       - optimistic-lock conflicts, retried from a fresh read;
                         a lock held by another process also backs off
  3. Lookup            - missing records, never retried

USAGE:
  if generic.IsTransient(err) {
      // back off and try again
  }

SEE ALSO:
  - retry.go: bounded retry loop built on these helpers
  - vacation/errors.go: domain errors (hire date, allocation overflow)
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreUnavailable is returned when a store call fails for a reason
	// that may go away on its own (connection loss, busy database, timeout).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConcurrentModification is returned when optimistic locking detects
	// that a record changed between read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockHeld is returned when another process holds the employee's
	// lock. It is also a concurrent modification.
	ErrLockHeld = errors.New("lock held by another process")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StoreError records which store operation failed. It matches
// ErrStoreUnavailable under errors.Is as well as the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps err as a transient store failure for op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ConflictError describes an optimistic-lock conflict on a keyed record.
type ConflictError struct {
	Key             string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s: expected version %d, found %d",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// LockHeldError reports contention on a named lock.
type LockHeldError struct {
	Key string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLockHeld, e.Key)
}

func (e *LockHeldError) Unwrap() []error {
	return []error{ErrLockHeld, ErrConcurrentModification}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsTransient returns true if the store may succeed when called again later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsConflict returns true if the error is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsLockHeld returns true if the error is contention on a held lock.
func IsLockHeld(err error) bool {
	return errors.Is(err, ErrLockHeld)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
