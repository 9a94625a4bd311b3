package vacation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/vacation"
)

func TestStatutorySchedule(t *testing.T) {
	s := vacation.StatutorySchedule()

	want := map[int]int{
		0: 0, 1: 12, 2: 14, 3: 16, 4: 18, 5: 20,
		6: 22, 10: 22, 11: 24, 15: 24, 16: 26, 20: 26,
		21: 28, 25: 28, 26: 30, 30: 30, 31: 32, 45: 32,
	}
	for years, days := range want {
		assert.Equal(t, days, s.DaysFor(years), "year %d", years)
	}
}

func TestStatutorySchedule_Monotonic(t *testing.T) {
	s := vacation.StatutorySchedule()
	for y := 1; y < 60; y++ {
		assert.GreaterOrEqual(t, s.DaysFor(y+1), s.DaysFor(y), "year %d", y)
	}
}

func TestNewSchedule(t *testing.T) {
	s, err := vacation.NewSchedule([]vacation.Tier{{FromYear: 3, Days: 20}, {FromYear: 1, Days: 15}})
	require.NoError(t, err)
	assert.Equal(t, 15, s.DaysFor(2))
	assert.Equal(t, 20, s.DaysFor(3))
	assert.Equal(t, []vacation.Tier{{FromYear: 1, Days: 15}, {FromYear: 3, Days: 20}}, s.Tiers())

	bad := map[string][]vacation.Tier{
		"empty":      nil,
		"year zero":  {{FromYear: 0, Days: 10}},
		"negative":   {{FromYear: 1, Days: -1}},
		"duplicate":  {{FromYear: 1, Days: 10}, {FromYear: 1, Days: 12}},
		"decreasing": {{FromYear: 1, Days: 12}, {FromYear: 2, Days: 10}},
	}
	for name, tiers := range bad {
		_, err := vacation.NewSchedule(tiers)
		assert.Error(t, err, name)
	}
}
