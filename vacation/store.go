/*
store.go - Persistence contract for the engine

PURPOSE:
  The engine never talks to a database directly. It reads and writes
  through these narrow interfaces; adapters live under store/.

IMPLEMENTATIONS:
  - store/memory:   in-memory, for tests and the "memory" driver
  - store/sqlite:   database/sql + go-sqlite3
  - store/postgres: pgx with row-level locks

CONCURRENCY CONTRACT:
  WithEmployeeTx runs fn as one logical transaction scoped to an employee.
  While fn runs, no request approval or cancellation for that employee may
  commit in between the read and the write. Stores implement this with a
  lock (per-employee mutex, serialized SQLite writer, SELECT ... FOR UPDATE)
  and additionally version-check cycle writes: Upsert fails with
  generic.ErrConcurrentModification when the stored version differs from
  Cycle.Version.

SEE ALSO:
  - reconcile.go: the only writer of cycles
*/
package vacation

import (
	"context"
	"time"

	"github.com/warp/vacation-engine/generic"
)

// CycleStore persists cycles per employee.
type CycleStore interface {
	// ListByEmployee returns the employee's cycles ordered by start date.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]Cycle, error)

	// Upsert inserts or updates the cycle keyed by employee + start date.
	// Version 0 means "must not exist yet". Returns the stored cycle with
	// its new version.
	Upsert(ctx context.Context, cycle Cycle) (Cycle, error)

	// DeleteAllForEmployee removes every cycle of the employee. Only used
	// by administrative reset.
	DeleteAllForEmployee(ctx context.Context, employeeID EmployeeID) (int, error)
}

// RequestStore exposes approved requests, read-only.
type RequestStore interface {
	// ListApprovedByEmployee returns approved requests ordered by start date.
	ListApprovedByEmployee(ctx context.Context, employeeID EmployeeID) ([]Request, error)
}

// EmployeeStore exposes the fields the engine reads from employees.
type EmployeeStore interface {
	// GetEmployee returns ErrEmployeeNotFound for unknown ids.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)

	// ListEmployees returns employees ordered by id.
	ListEmployees(ctx context.Context, activeOnly bool) ([]Employee, error)
}

// Store is everything reconciliation reads and writes.
type Store interface {
	CycleStore
	RequestStore
	EmployeeStore
}

// TxStore adds employee-scoped transactions.
type TxStore interface {
	Store

	// WithEmployeeTx executes fn within a transaction locked to employeeID.
	// If fn returns an error the transaction is rolled back.
	WithEmployeeTx(ctx context.Context, employeeID EmployeeID, fn func(Store) error) error
}

// =============================================================================
// RUN LOG - Audit trail of reconciliation passes
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Run records one reconciliation pass for one employee.
type Run struct {
	ID            string
	EmployeeID    EmployeeID
	ReferenceDate generic.Date
	Status        RunStatus
	DryRun        bool
	CyclesCreated int
	CyclesUpdated int
	Warning       string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// RunLog stores runs. Optional: the reconciler works without one.
type RunLog interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, employeeID EmployeeID, limit int) ([]Run, error)
}

// Locker provides cross-process mutual exclusion per employee. Acquire
// returns a *generic.LockHeldError when another holder has it; the retry
// loop backs off before trying again.
type Locker interface {
	Acquire(ctx context.Context, employeeID EmployeeID) (release func(context.Context) error, err error)
}
