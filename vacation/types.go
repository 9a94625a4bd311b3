// Package vacation implements the vacation-balance engine: the statutory
// accrual schedule, anniversary cycles with expiration, FIFO allocation of
// approved requests against cycles, and reconciliation of stored balances.
package vacation

import (
	"fmt"

	"github.com/warp/vacation-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type CycleID string
type RequestID string

// =============================================================================
// EMPLOYEE - Owned by employee management; only the hire date matters here
// =============================================================================

type Employee struct {
	ID       EmployeeID
	Name     string
	HireDate generic.Date
	IsActive bool
}

// =============================================================================
// CYCLE - One anniversary year's grant with its own expiration
// =============================================================================

// Cycle is a stored vacation cycle.
//
// INVARIANTS:
//   - DaysAvailable == DaysEarned - DaysUsed
//   - 0 <= DaysUsed <= DaysEarned
//   - IsExpired implies DaysUsed == DaysEarned
//
// Version is maintained by the store and used for optimistic concurrency:
// Upsert rejects a cycle whose Version doesn't match what is stored.
type Cycle struct {
	ID             CycleID
	EmployeeID     EmployeeID
	StartDate      generic.Date
	EndDate        generic.Date
	YearsOfService int
	DaysEarned     int
	DaysUsed       int
	DaysAvailable  int
	IsExpired      bool
	Version        int
}

// Window returns the closed period during which the cycle can be consumed.
func (c Cycle) Window() generic.Period {
	return generic.Period{Start: c.StartDate, End: c.EndDate}
}

// Key identifies a cycle inside a store: employee + start date.
func (c Cycle) Key() string {
	return string(c.EmployeeID) + "/" + c.StartDate.String()
}

// ExpiredAt reports whether the cycle is expired on ref.
func (c Cycle) ExpiredAt(ref generic.Date) bool {
	return c.EndDate.Before(ref)
}

// Validate checks the balance invariants. Stores call it before writing.
func (c Cycle) Validate() error {
	switch {
	case c.EmployeeID == "":
		return fmt.Errorf("cycle: missing employee id")
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return fmt.Errorf("cycle %s: missing dates", c.Key())
	case c.EndDate.Before(c.StartDate):
		return fmt.Errorf("cycle %s: %w", c.Key(), generic.ErrInvalidPeriod)
	case c.DaysUsed < 0 || c.DaysUsed > c.DaysEarned:
		return fmt.Errorf("cycle %s: days used %d outside [0, %d]", c.Key(), c.DaysUsed, c.DaysEarned)
	case c.DaysAvailable != c.DaysEarned-c.DaysUsed:
		return fmt.Errorf("cycle %s: days available %d != %d - %d", c.Key(), c.DaysAvailable, c.DaysEarned, c.DaysUsed)
	case c.IsExpired && c.DaysAvailable != 0:
		return fmt.Errorf("cycle %s: expired with %d days available", c.Key(), c.DaysAvailable)
	}
	return nil
}

// State derives the lifecycle state of the cycle on ref.
func (c Cycle) State(ref generic.Date) CycleState {
	switch {
	case c.ExpiredAt(ref):
		return StateExpired
	case ref.Before(c.StartDate):
		return StatePreCreation
	case c.DaysAvailable <= 0:
		return StateExhausted
	default:
		return StateActive
	}
}

// CycleState is derived from dates and balances, never stored.
//
//	PRE_CREATION -> ACTIVE -> EXHAUSTED -> EXPIRED
//
// EXPIRED is terminal: once the reference date passes the end date a cycle
// never becomes active again.
type CycleState string

const (
	StatePreCreation CycleState = "pre_creation"
	StateActive      CycleState = "active"
	StateExhausted   CycleState = "exhausted"
	StateExpired     CycleState = "expired"
)

// =============================================================================
// REQUEST - Owned by the request workflow; read-only input to the engine
// =============================================================================

type Request struct {
	ID            RequestID
	EmployeeID    EmployeeID
	StartDate     generic.Date
	EndDate       generic.Date
	DaysRequested int
	Status        RequestStatus
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Deductible reports whether the request can consume cycle balance.
func (r Request) Deductible() bool {
	return r.Status == StatusApproved && r.DaysRequested > 0
}

// Validate checks the request fields a store relies on.
func (r Request) Validate() error {
	switch {
	case r.EmployeeID == "":
		return fmt.Errorf("request %s: missing employee id", r.ID)
	case r.StartDate.IsZero() || r.EndDate.IsZero():
		return fmt.Errorf("request %s: missing dates", r.ID)
	case r.EndDate.Before(r.StartDate):
		return fmt.Errorf("request %s: %w", r.ID, generic.ErrInvalidPeriod)
	case r.DaysRequested <= 0:
		return fmt.Errorf("request %s: days requested must be positive, got %d", r.ID, r.DaysRequested)
	case !r.Status.Valid():
		return fmt.Errorf("request %s: unknown status %q", r.ID, r.Status)
	}
	return nil
}
