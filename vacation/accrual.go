/*
accrual.go - Statutory vacation accrual schedule

PURPOSE:
  Maps completed years of service to the number of paid vacation days the
  employee is entitled to for that anniversary year. This is the single
  source of truth for entitlement: cycle creation, reconciliation and the
  API all read it through the CycleCalculator's Policy.

STATUTORY TABLE (LFT, 2023 reform):
  years   days
  1       12
  2       14
  3       16
  4       18
  5       20
  6-10    22
  11-15   24
  16-20   26
  21-25   28
  26-30   30
  31+     32

TIERS:
  A Schedule is a list of tiers sorted by FromYear. Each tier applies from
  its FromYear until the next tier starts. Years below the first tier are
  not yet eligible and earn nothing.

EXAMPLE:
  days := vacation.StatutorySchedule().DaysFor(7) // 22

SEE ALSO:
  - cycle.go: uses DaysFor for each anniversary
  - factory/policy.go: loads alternative tables from YAML
*/
package vacation

import (
	"fmt"
	"sort"
)

// =============================================================================
// ACCRUAL SCHEDULE
// =============================================================================

// Tier grants Days per anniversary year from FromYear onwards.
type Tier struct {
	FromYear int
	Days     int
}

// Schedule is a monotonic step table of tiers.
type Schedule struct {
	tiers []Tier
}

// NewSchedule validates and builds a schedule. Tiers may be given in any
// order; they must start at distinct years >= 1 and never decrease.
func NewSchedule(tiers []Tier) (Schedule, error) {
	if len(tiers) == 0 {
		return Schedule{}, fmt.Errorf("accrual schedule: no tiers")
	}
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FromYear < sorted[j].FromYear })

	for i, t := range sorted {
		if t.FromYear < 1 {
			return Schedule{}, fmt.Errorf("accrual schedule: tier starts at year %d, must be >= 1", t.FromYear)
		}
		if t.Days < 0 {
			return Schedule{}, fmt.Errorf("accrual schedule: tier at year %d grants negative days", t.FromYear)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.FromYear == prev.FromYear {
			return Schedule{}, fmt.Errorf("accrual schedule: duplicate tier at year %d", t.FromYear)
		}
		if t.Days < prev.Days {
			return Schedule{}, fmt.Errorf("accrual schedule: year %d grants %d days, less than %d at year %d",
				t.FromYear, t.Days, prev.Days, prev.FromYear)
		}
	}
	return Schedule{tiers: sorted}, nil
}

// MustSchedule is NewSchedule for package-level tables.
func MustSchedule(tiers []Tier) Schedule {
	s, err := NewSchedule(tiers)
	if err != nil {
		panic(err)
	}
	return s
}

var statutory = MustSchedule([]Tier{
	{FromYear: 1, Days: 12},
	{FromYear: 2, Days: 14},
	{FromYear: 3, Days: 16},
	{FromYear: 4, Days: 18},
	{FromYear: 5, Days: 20},
	{FromYear: 6, Days: 22},
	{FromYear: 11, Days: 24},
	{FromYear: 16, Days: 26},
	{FromYear: 21, Days: 28},
	{FromYear: 26, Days: 30},
	{FromYear: 31, Days: 32},
})

// StatutorySchedule returns the canonical table.
func StatutorySchedule() Schedule { return statutory }

// DaysFor returns the entitlement for the given anniversary year.
// years < 1 (or below the first tier) returns 0.
func (s Schedule) DaysFor(yearsOfService int) int {
	days := 0
	for _, t := range s.tiers {
		if yearsOfService < t.FromYear {
			break
		}
		days = t.Days
	}
	return days
}

// Tiers returns a copy of the schedule's tiers in ascending order.
func (s Schedule) Tiers() []Tier {
	return append([]Tier(nil), s.tiers...)
}

// IsZero reports whether the schedule was never initialized.
func (s Schedule) IsZero() bool { return len(s.tiers) == 0 }
