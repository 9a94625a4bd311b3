package vacation

import (
	"errors"
	"fmt"

	"github.com/warp/vacation-engine/generic"
)

var (
	// ErrInvalidHireDate is returned when a hire date is missing or later
	// than the reference date. Accrual can't be computed for the employee.
	ErrInvalidHireDate = errors.New("invalid hire date")

	// ErrAllocationOverflow flags more approved in-range days than the
	// active cycles can hold. It is a data-integrity warning, never fatal.
	ErrAllocationOverflow = errors.New("allocation overflow")

	// ErrEmployeeNotFound is returned when the employee doesn't exist.
	ErrEmployeeNotFound = fmt.Errorf("employee %w", generic.ErrNotFound)
)

// InvalidHireDateError names the employee and the offending date.
type InvalidHireDateError struct {
	EmployeeID    EmployeeID
	HireDate      generic.Date
	ReferenceDate generic.Date
}

func (e *InvalidHireDateError) Error() string {
	if e.HireDate.IsZero() {
		return fmt.Sprintf("invalid hire date for %s: missing", e.EmployeeID)
	}
	return fmt.Sprintf("invalid hire date for %s: %s is after reference date %s",
		e.EmployeeID, e.HireDate, e.ReferenceDate)
}

func (e *InvalidHireDateError) Unwrap() error { return ErrInvalidHireDate }

// AllocationOverflowError reports the requested total against what the
// active cycles can absorb.
type AllocationOverflowError struct {
	EmployeeID     EmployeeID
	TotalRequested int
	TotalAvailable int
}

func (e *AllocationOverflowError) Error() string {
	return fmt.Sprintf("allocation overflow for %s: %d days approved in range, %d days of active entitlement",
		e.EmployeeID, e.TotalRequested, e.TotalAvailable)
}

func (e *AllocationOverflowError) Unwrap() error { return ErrAllocationOverflow }

// Excess returns the days that could not be placed on any cycle.
func (e *AllocationOverflowError) Excess() int { return e.TotalRequested - e.TotalAvailable }
