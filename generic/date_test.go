package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/generic"
)

var d = generic.MustParseDate

func TestDate_AddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2024-01-01", 18, "2025-07-01"},
		{"2023-08-31", 18, "2025-02-28"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2024-10-16", 6, "2025-04-16"},
		{"2024-05-15", -17, "2022-12-15"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d(tt.from).AddMonths(tt.months).String(), "%s %+d months", tt.from, tt.months)
	}
}

func TestDate_AddYearsLeapDay(t *testing.T) {
	hire := d("2020-02-29")

	assert.Equal(t, "2021-02-28", hire.AddYears(1).String())
	assert.Equal(t, "2024-02-29", hire.AddYears(4).String())
	assert.Equal(t, "2022-08-28", hire.AddYears(1).AddMonths(18).String())
}

func TestDate_Comparisons(t *testing.T) {
	a, b := d("2024-07-01"), d("2024-07-02")

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.BeforeOrEqual(a))
	assert.True(t, a.AfterOrEqual(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, a, generic.MinDate(a, b))
	assert.Equal(t, 1, generic.DaysBetween(a, b))
	assert.Equal(t, -1, generic.DaysBetween(b, a))
}

func TestDateOf_KeepsLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	// 2024-10-17 03:00 UTC is still the 16th in UTC-6.
	instant := time.Date(2024, 10, 17, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-10-16", generic.DateOf(instant.In(loc)).String())
	assert.Equal(t, "2024-10-17", generic.DateOf(instant).String())
	assert.True(t, generic.DateOf(time.Time{}).IsZero())
}

func TestParseDate(t *testing.T) {
	_, err := generic.ParseDate("2024-02-30")
	assert.Error(t, err)

	_, err = generic.ParseDate("16/10/2024")
	assert.Error(t, err)

	assert.Panics(t, func() { generic.MustParseDate("") })
}

func TestDate_Scan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		want string
	}{
		{"text", "2024-01-15", "2024-01-15"},
		{"bytes", []byte("2024-01-15"), "2024-01-15"},
		{"timestamp text", "2024-01-15T00:00:00Z", "2024-01-15"},
		{"sqlite datetime", "2024-01-15 00:00:00+00:00", "2024-01-15"},
		{"time", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2024-01-15"},
		{"null", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got generic.Date
			require.NoError(t, got.Scan(tt.src))
			assert.Equal(t, tt.want, got.String())
		})
	}

	var bad generic.Date
	assert.Error(t, bad.Scan(42))
}

func TestDate_Value(t *testing.T) {
	v, err := d("2024-01-15").Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", v)

	v, err = generic.Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Start generic.Date `json:"start"`
	}
	raw, err := json.Marshal(wrapper{Start: d("2025-01-01")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-01-01"}`, string(raw))

	var w wrapper
	assert.Error(t, json.Unmarshal([]byte(`{"start":"tomorrow"}`), &w))
}

func TestPeriod(t *testing.T) {
	p := generic.Period{Start: d("2024-01-01"), End: d("2025-07-01")}

	assert.True(t, p.Contains(d("2024-01-01")))
	assert.True(t, p.Contains(d("2025-07-01")))
	assert.False(t, p.Contains(d("2025-07-02")))
	assert.NoError(t, p.Validate())
	assert.Equal(t, 3, generic.Period{Start: d("2024-02-28"), End: d("2024-03-01")}.Days())

	backwards := generic.Period{Start: p.End, End: p.Start}
	assert.ErrorIs(t, backwards.Validate(), generic.ErrInvalidPeriod)
	assert.Equal(t, 0, backwards.Days())
}
