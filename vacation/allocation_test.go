package vacation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/vacation"
)

func cycle(start, end string, earned int) vacation.Cycle {
	return vacation.Cycle{
		EmployeeID:    "emp-1",
		StartDate:     d(start),
		EndDate:       d(end),
		DaysEarned:    earned,
		DaysAvailable: earned,
	}
}

func request(id, start string, days int, status vacation.RequestStatus) vacation.Request {
	return vacation.Request{
		ID:            vacation.RequestID(id),
		EmployeeID:    "emp-1",
		StartDate:     d(start),
		EndDate:       d(start).AddDays(days - 1),
		DaysRequested: days,
		Status:        status,
	}
}

// The reference employee: hired 2020-01-01, evaluated on 2024-10-16.
func referenceCycles() []vacation.Cycle {
	return []vacation.Cycle{
		cycle("2021-01-01", "2022-07-01", 12),
		cycle("2022-01-01", "2023-07-01", 14),
		cycle("2023-01-01", "2024-07-01", 16),
		cycle("2024-01-01", "2025-07-01", 18),
		cycle("2025-01-01", "2026-07-01", 20),
	}
}

func TestAllocate_SingleRequestHitsOldestActive(t *testing.T) {
	reqs := []vacation.Request{request("r1", "2024-06-01", 5, vacation.StatusApproved)}

	a := vacation.Allocate("emp-1", referenceCycles(), reqs, d("2024-10-16"))

	assert.Equal(t, "2024-01-01", a.OldestActiveStart.String())
	y4, ok := a.BalanceFor(d("2024-01-01"))
	require.True(t, ok)
	assert.Equal(t, 5, y4.DaysUsed)
	assert.Equal(t, 13, y4.DaysAvailable)

	y5, _ := a.BalanceFor(d("2025-01-01"))
	assert.Equal(t, 0, y5.DaysUsed)
	assert.Equal(t, 20, y5.DaysAvailable)

	for _, start := range []string{"2021-01-01", "2022-01-01", "2023-01-01"} {
		b, _ := a.BalanceFor(d(start))
		assert.True(t, b.IsExpired, start)
		assert.Equal(t, b.DaysEarned, b.DaysUsed, start)
		assert.Equal(t, 0, b.DaysAvailable, start)
	}
	assert.Nil(t, a.Overflow)
}

func TestAllocate_HistoricalRequestIgnored(t *testing.T) {
	reqs := []vacation.Request{
		request("r1", "2024-06-01", 5, vacation.StatusApproved),
		request("old", "2019-12-01", 3, vacation.StatusApproved),
	}

	a := vacation.Allocate("emp-1", referenceCycles(), reqs, d("2024-10-16"))

	y4, _ := a.BalanceFor(d("2024-01-01"))
	assert.Equal(t, 5, y4.DaysUsed)
	require.Len(t, a.OutOfRange, 1)
	assert.Equal(t, vacation.RequestID("old"), a.OutOfRange[0].ID)
	assert.Equal(t, 5, a.TotalRequested)
}

func TestAllocate_RequestDuringExpiredCycleIsHistory(t *testing.T) {
	// Taken in 2023, before the oldest active cycle started.
	reqs := []vacation.Request{request("r1", "2023-08-01", 10, vacation.StatusApproved)}

	a := vacation.Allocate("emp-1", referenceCycles(), reqs, d("2024-10-16"))

	assert.Len(t, a.OutOfRange, 1)
	assert.Equal(t, 0, a.TotalDeducted)
}

func TestAllocate_FIFOSpillsIntoNewerCycle(t *testing.T) {
	cycles := []vacation.Cycle{
		cycle("2025-01-01", "2026-07-01", 10),
		cycle("2024-01-01", "2025-07-01", 10),
	}
	reqs := []vacation.Request{request("r1", "2024-06-01", 15, vacation.StatusApproved)}

	a := vacation.Allocate("emp-1", cycles, reqs, d("2024-10-16"))

	require.Len(t, a.Balances, 2)
	assert.Equal(t, "2024-01-01", a.Balances[0].StartDate.String())
	assert.Equal(t, 10, a.Balances[0].DaysUsed)
	assert.Equal(t, 5, a.Balances[1].DaysUsed)
	assert.Equal(t, 15, a.TotalDeducted)
}

func TestAllocate_OnlyApprovedCount(t *testing.T) {
	reqs := []vacation.Request{
		request("a", "2024-03-01", 2, vacation.StatusApproved),
		request("p", "2024-03-10", 3, vacation.StatusPending),
		request("r", "2024-03-20", 4, vacation.StatusRejected),
		request("c", "2024-04-01", 5, vacation.StatusCancelled),
	}

	a := vacation.Allocate("emp-1", referenceCycles(), reqs, d("2024-10-16"))

	assert.Equal(t, 2, a.TotalRequested)
	assert.Len(t, a.InRange, 1)
}

func TestAllocate_OverflowIsCapped(t *testing.T) {
	cycles := []vacation.Cycle{
		cycle("2024-01-10", "2025-07-10", 12),
		cycle("2025-01-10", "2026-07-10", 14),
	}
	reqs := []vacation.Request{
		request("r1", "2024-03-01", 20, vacation.StatusApproved),
		request("r2", "2024-09-02", 10, vacation.StatusApproved),
	}

	a := vacation.Allocate("emp-1", cycles, reqs, d("2024-10-16"))

	require.NotNil(t, a.Overflow)
	assert.ErrorIs(t, a.Overflow, vacation.ErrAllocationOverflow)
	assert.Equal(t, 30, a.Overflow.TotalRequested)
	assert.Equal(t, 26, a.Overflow.TotalAvailable)
	assert.Equal(t, 4, a.Overflow.Excess())
	for _, b := range a.Balances {
		assert.Equal(t, 0, b.DaysAvailable)
		assert.Equal(t, b.DaysEarned, b.DaysUsed)
	}
}

func TestAllocate_NoActiveCycles(t *testing.T) {
	cycles := []vacation.Cycle{cycle("2021-01-01", "2022-07-01", 12)}
	reqs := []vacation.Request{request("r1", "2021-06-01", 5, vacation.StatusApproved)}

	a := vacation.Allocate("emp-1", cycles, reqs, d("2024-10-16"))

	assert.True(t, a.OldestActiveStart.IsZero())
	assert.Len(t, a.OutOfRange, 1)
	require.Len(t, a.Balances, 1)
	assert.True(t, a.Balances[0].IsExpired)
	assert.Equal(t, 12, a.Balances[0].DaysUsed)
}

func TestAllocate_Conservation(t *testing.T) {
	reqs := []vacation.Request{
		request("r1", "2024-02-01", 7, vacation.StatusApproved),
		request("r2", "2024-05-01", 9, vacation.StatusApproved),
		request("r3", "2024-09-01", 11, vacation.StatusApproved),
	}

	a := vacation.Allocate("emp-1", referenceCycles(), reqs, d("2024-10-16"))

	activeUsed := 0
	for _, b := range a.Balances {
		assert.Equal(t, b.DaysEarned, b.DaysUsed+b.DaysAvailable)
		assert.GreaterOrEqual(t, b.DaysAvailable, 0)
		if !b.IsExpired {
			activeUsed += b.DaysUsed
		}
	}
	assert.Equal(t, 27, a.TotalRequested)
	assert.Equal(t, a.TotalRequested, activeUsed)
	assert.Equal(t, a.TotalDeducted, activeUsed)
}

func TestAllocate_ApplyIgnoresUnknownCycles(t *testing.T) {
	a := vacation.Allocate("emp-1", referenceCycles(), nil, d("2024-10-16"))

	stray := cycle("2024-03-01", "2025-09-01", 5)
	stray.DaysUsed, stray.DaysAvailable = 2, 3
	assert.Equal(t, stray, a.Apply(stray))

	y1 := a.Apply(referenceCycles()[0])
	assert.True(t, y1.IsExpired)
	assert.Equal(t, 0, y1.DaysAvailable)
}
