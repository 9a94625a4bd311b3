package generic

// =============================================================================
// PERIOD - Closed range of calendar dates
// =============================================================================

// Period is the closed range [Start, End].
//
// Examples:
//   - A vacation cycle: anniversary .. anniversary + 18 months
//   - A pre-creation window: today .. today + 6 months
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Days returns the number of calendar days covered, inclusive.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
