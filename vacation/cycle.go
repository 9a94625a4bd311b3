/*
cycle.go - Anniversary cycle calculation

PURPOSE:
  Derives the full set of vacation cycles an employee should have on a
  reference date. One cycle per anniversary year of service, each valid
  for ValidityMonths after the anniversary.

RULES:
  start(N)  = hire date + N years (same month/day)
  end(N)    = start(N) + ValidityMonths (18 by policy)
  due       = start(N) <= reference + PreCreationMonths (6 by policy)
  expired   = end(N) < reference

  Descriptors are produced for years 1 through the first anniversary past
  the pre-creation horizon, so a window of a year or more pre-creates every
  anniversary it covers. Only due descriptors become stored cycles; the pre-creation
  window makes sure an employee is never left with zero active cycles
  right before an anniversary.

EXAMPLE:
  hired 2020-01-01, reference 2024-10-16
    year 1: 2021-01-01 .. 2022-07-01  expired  12 days
    year 2: 2022-01-01 .. 2023-07-01  expired  14 days
    year 3: 2023-01-01 .. 2024-07-01  expired  16 days
    year 4: 2024-01-01 .. 2025-07-01  active   18 days
    year 5: 2025-01-01 .. 2026-07-01  due (pre-created), 20 days

SEE ALSO:
  - accrual.go: days per year of service
  - allocation.go: consumes the cycles produced here
*/
package vacation

import (
	"fmt"

	"github.com/warp/vacation-engine/generic"
)

// =============================================================================
// POLICY - Schedule plus cycle timing rules
// =============================================================================

const (
	DefaultValidityMonths    = 18
	DefaultPreCreationMonths = 6
)

// Policy bundles the accrual schedule with the cycle timing rules.
type Policy struct {
	Schedule          Schedule
	ValidityMonths    int
	PreCreationMonths int
}

// DefaultPolicy is the statutory table with 18 month validity and a
// 6 month pre-creation window.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:          StatutorySchedule(),
		ValidityMonths:    DefaultValidityMonths,
		PreCreationMonths: DefaultPreCreationMonths,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.Schedule.IsZero() {
		return fmt.Errorf("vacation policy: missing accrual schedule")
	}
	if p.ValidityMonths < 1 {
		return fmt.Errorf("vacation policy: validity must be at least 1 month, got %d", p.ValidityMonths)
	}
	if p.PreCreationMonths < 0 {
		return fmt.Errorf("vacation policy: pre-creation window can't be negative, got %d", p.PreCreationMonths)
	}
	return nil
}

// =============================================================================
// CYCLE DESCRIPTOR - Target state for one anniversary year
// =============================================================================

type CycleDescriptor struct {
	YearsOfService int
	StartDate      generic.Date
	EndDate        generic.Date
	DaysEarned     int
	Due            bool
	Expired        bool
}

// NewCycle builds the initial stored form of the descriptor. Expired
// cycles are born fully used.
func (d CycleDescriptor) NewCycle(employeeID EmployeeID) Cycle {
	c := Cycle{
		EmployeeID:     employeeID,
		StartDate:      d.StartDate,
		EndDate:        d.EndDate,
		YearsOfService: d.YearsOfService,
		DaysEarned:     d.DaysEarned,
		DaysAvailable:  d.DaysEarned,
	}
	if d.Expired {
		c.IsExpired = true
		c.DaysUsed = d.DaysEarned
		c.DaysAvailable = 0
	}
	return c
}

// Matches reports whether a stored cycle carries exactly the descriptor's
// grant (dates, year and entitlement).
func (d CycleDescriptor) Matches(c Cycle) bool {
	return c.StartDate.Equal(d.StartDate) &&
		c.EndDate.Equal(d.EndDate) &&
		c.YearsOfService == d.YearsOfService &&
		c.DaysEarned == d.DaysEarned
}

// =============================================================================
// CYCLE CALCULATOR
// =============================================================================

type CycleCalculator struct {
	Policy Policy
}

// NewCycleCalculator validates the policy and returns a calculator.
func NewCycleCalculator(p Policy) (*CycleCalculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &CycleCalculator{Policy: p}, nil
}

// Descriptors returns one descriptor per anniversary year, from year 1
// through the first anniversary after ref + PreCreationMonths.
func (cc *CycleCalculator) Descriptors(emp Employee, ref generic.Date) ([]CycleDescriptor, error) {
	if emp.HireDate.IsZero() || emp.HireDate.After(ref) {
		return nil, &InvalidHireDateError{EmployeeID: emp.ID, HireDate: emp.HireDate, ReferenceDate: ref}
	}

	horizon := ref.AddMonths(cc.Policy.PreCreationMonths)

	var out []CycleDescriptor
	for year := 1; ; year++ {
		start := emp.HireDate.AddYears(year)
		end := start.AddMonths(cc.Policy.ValidityMonths)
		out = append(out, CycleDescriptor{
			YearsOfService: year,
			StartDate:      start,
			EndDate:        end,
			DaysEarned:     cc.Policy.Schedule.DaysFor(year),
			Due:            start.BeforeOrEqual(ref) || start.BeforeOrEqual(horizon),
			Expired:        end.Before(ref),
		})
		if start.After(horizon) {
			break
		}
	}
	return out, nil
}

// DueCycles returns only the descriptors that should exist in storage on ref.
func (cc *CycleCalculator) DueCycles(emp Employee, ref generic.Date) ([]CycleDescriptor, error) {
	all, err := cc.Descriptors(emp, ref)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, d := range all {
		if d.Due {
			due = append(due, d)
		}
	}
	return due, nil
}

// YearsOfService returns completed anniversaries between hire and ref.
func YearsOfService(hire, ref generic.Date) int {
	if hire.IsZero() || ref.Before(hire) {
		return 0
	}
	years := ref.Year() - hire.Year()
	if hire.AddYears(years).After(ref) {
		years--
	}
	return years
}
