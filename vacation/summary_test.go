package vacation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/vacation"
)

func TestSummarize(t *testing.T) {
	cycles := referenceCycles()
	cycles[3].DaysUsed, cycles[3].DaysAvailable = 5, 13

	s := vacation.Summarize("emp-1", cycles, d("2024-10-16"))

	assert.Equal(t, 3, s.ExpiredCycles)
	require.Len(t, s.ActiveCycles, 2)
	assert.Equal(t, 38, s.TotalEarned)
	assert.Equal(t, 5, s.TotalUsed)
	assert.Equal(t, 33, s.TotalAvailable)
	require.NotNil(t, s.NextExpiring)
	assert.Equal(t, "2024-01-01", s.NextExpiring.StartDate.String())
	assert.Equal(t, 13, s.DaysAtRisk)
	assert.Equal(t, "0.1316", s.Utilization.StringFixed(4))
}

func TestSummarize_UsesReferenceNotStoredFlag(t *testing.T) {
	// Stored cycles still say active, but the reference is past their end.
	s := vacation.Summarize("emp-1", referenceCycles(), d("2026-08-01"))

	assert.Equal(t, 5, s.ExpiredCycles)
	assert.Empty(t, s.ActiveCycles)
	assert.Nil(t, s.NextExpiring)
	assert.True(t, s.Utilization.IsZero())
}

func TestSummarize_SkipsExhaustedForNextExpiring(t *testing.T) {
	cycles := referenceCycles()
	cycles[3].DaysUsed, cycles[3].DaysAvailable = 18, 0

	s := vacation.Summarize("emp-1", cycles, d("2024-10-16"))

	require.NotNil(t, s.NextExpiring)
	assert.Equal(t, "2025-01-01", s.NextExpiring.StartDate.String())
	assert.Equal(t, 20, s.DaysAtRisk)
}
