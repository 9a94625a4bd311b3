package vacation

import (
	"slices"

	"github.com/shopspring/decimal"
	"github.com/warp/vacation-engine/generic"
)

// =============================================================================
// SUMMARY - Read-side view of an employee's balance on a date
// =============================================================================

// Summary aggregates the non-expired cycles of an employee.
type Summary struct {
	EmployeeID    EmployeeID
	ReferenceDate generic.Date

	ActiveCycles  []Cycle
	ExpiredCycles int

	TotalEarned    int
	TotalUsed      int
	TotalAvailable int

	// NextExpiring is the earliest-ending active cycle that still has days.
	NextExpiring *Cycle
	DaysAtRisk   int

	// Utilization is TotalUsed / TotalEarned, 4 decimal places.
	Utilization decimal.Decimal
}

// Summarize builds a summary from stored cycles. Expiration is evaluated
// against ref, not the stored flag, so a stale store still reads correctly.
func Summarize(employeeID EmployeeID, cycles []Cycle, ref generic.Date) Summary {
	s := Summary{EmployeeID: employeeID, ReferenceDate: ref, Utilization: decimal.Zero}

	ordered := append([]Cycle(nil), cycles...)
	slices.SortStableFunc(ordered, func(a, b Cycle) int { return a.StartDate.Compare(b.StartDate) })

	for _, c := range ordered {
		if c.ExpiredAt(ref) {
			s.ExpiredCycles++
			continue
		}
		s.ActiveCycles = append(s.ActiveCycles, c)
		s.TotalEarned += c.DaysEarned
		s.TotalUsed += c.DaysUsed
		s.TotalAvailable += c.DaysAvailable

		if c.DaysAvailable > 0 && (s.NextExpiring == nil || c.EndDate.Before(s.NextExpiring.EndDate)) {
			next := c
			s.NextExpiring = &next
			s.DaysAtRisk = c.DaysAvailable
		}
	}

	if s.TotalEarned > 0 {
		s.Utilization = decimal.NewFromInt(int64(s.TotalUsed)).
			Div(decimal.NewFromInt(int64(s.TotalEarned))).
			Round(4)
	}
	return s
}
