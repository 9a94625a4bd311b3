/*
allocation.go - FIFO allocation of approved requests across cycles

PURPOSE:
  Given an employee's cycles and approved requests, computes what every
  cycle's days_used / days_available should be on a reference date. This
  is a pure function: it never reads or writes storage. Reconciliation
  diffs its output against what is stored.

ALGORITHM:
  1. oldest = start of the earliest non-expired cycle. No active cycle
     means every cycle is fully used and nothing is deducted.
  2. Approved requests starting before oldest are out of range: history
     only, never deducted. The rest are in range.
  3. total = sum of in-range days_requested.
  4. Walk active cycles oldest first: used = min(remaining, earned).
     Expired cycles are forced to used = earned, available = 0.
  5. Anything left over is an AllocationOverflowError (warning). Balances
     stay capped; nothing goes negative.

  Usage is always recomputed from scratch. A cancelled request simply
  stops contributing; there is no incremental add/subtract.

EXAMPLE:
  C1 (2024-01-01, 10 days) and C2 (2025-01-01, 10 days), both active
  one approved 15 day request on 2024-06-01
    -> C1 used 10, C2 used 5

SEE ALSO:
  - reconcile.go: persists the result
  - summary.go: read-side view over the same balances
*/
package vacation

import (
	"slices"

	"github.com/warp/vacation-engine/generic"
)

// CycleBalance is the computed usage for one cycle.
type CycleBalance struct {
	CycleID       CycleID
	StartDate     generic.Date
	DaysEarned    int
	DaysUsed      int
	DaysAvailable int
	IsExpired     bool
}

// Allocation is the full result of one allocation run.
type Allocation struct {
	EmployeeID    EmployeeID
	ReferenceDate generic.Date

	// Balances are ordered by cycle start date.
	Balances []CycleBalance

	// OldestActiveStart is zero when the employee has no active cycle.
	OldestActiveStart generic.Date

	InRange    []Request
	OutOfRange []Request

	TotalRequested int // in-range approved days
	TotalDeducted  int // days actually placed on cycles

	// Overflow is set when in-range days exceed active entitlement.
	Overflow *AllocationOverflowError
}

// BalanceFor returns the computed balance of the cycle starting on start.
func (a *Allocation) BalanceFor(start generic.Date) (CycleBalance, bool) {
	for _, b := range a.Balances {
		if b.StartDate.Equal(start) {
			return b, true
		}
	}
	return CycleBalance{}, false
}

// Apply returns c with the allocated balance. Cycles unknown to the
// allocation are returned unchanged.
func (a *Allocation) Apply(c Cycle) Cycle {
	b, ok := a.BalanceFor(c.StartDate)
	if !ok {
		return c
	}
	c.DaysUsed = b.DaysUsed
	c.DaysAvailable = b.DaysAvailable
	c.IsExpired = b.IsExpired
	return c
}

// Allocate distributes approved in-range requests over the active cycles,
// oldest cycle first. Requests that are not approved are ignored.
func Allocate(employeeID EmployeeID, cycles []Cycle, requests []Request, ref generic.Date) *Allocation {
	ordered := append([]Cycle(nil), cycles...)
	slices.SortStableFunc(ordered, func(a, b Cycle) int { return a.StartDate.Compare(b.StartDate) })

	result := &Allocation{
		EmployeeID:    employeeID,
		ReferenceDate: ref,
		Balances:      make([]CycleBalance, 0, len(ordered)),
	}

	for _, c := range ordered {
		if !c.ExpiredAt(ref) {
			result.OldestActiveStart = c.StartDate
			break
		}
	}

	approved := make([]Request, 0, len(requests))
	for _, r := range requests {
		if r.Deductible() {
			approved = append(approved, r)
		}
	}
	slices.SortStableFunc(approved, func(a, b Request) int { return a.StartDate.Compare(b.StartDate) })

	if result.OldestActiveStart.IsZero() {
		// Nothing active: everything is history.
		result.OutOfRange = approved
		for _, c := range ordered {
			result.Balances = append(result.Balances, expiredBalance(c))
		}
		return result
	}

	for _, r := range approved {
		if r.StartDate.Before(result.OldestActiveStart) {
			result.OutOfRange = append(result.OutOfRange, r)
			continue
		}
		result.InRange = append(result.InRange, r)
		result.TotalRequested += r.DaysRequested
	}

	remaining := result.TotalRequested
	activeEntitlement := 0
	for _, c := range ordered {
		if c.ExpiredAt(ref) {
			result.Balances = append(result.Balances, expiredBalance(c))
			continue
		}
		earned := max(c.DaysEarned, 0)
		used := min(remaining, earned)
		remaining -= used
		activeEntitlement += earned
		result.TotalDeducted += used
		result.Balances = append(result.Balances, CycleBalance{
			CycleID:       c.ID,
			StartDate:     c.StartDate,
			DaysEarned:    earned,
			DaysUsed:      used,
			DaysAvailable: earned - used,
		})
	}

	if remaining > 0 {
		result.Overflow = &AllocationOverflowError{
			EmployeeID:     employeeID,
			TotalRequested: result.TotalRequested,
			TotalAvailable: activeEntitlement,
		}
	}
	return result
}

func expiredBalance(c Cycle) CycleBalance {
	earned := max(c.DaysEarned, 0)
	return CycleBalance{
		CycleID:    c.ID,
		StartDate:  c.StartDate,
		DaysEarned: earned,
		DaysUsed:   earned,
		IsExpired:  true,
	}
}
