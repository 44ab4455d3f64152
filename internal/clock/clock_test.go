package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amsterdam(t *testing.T) Calendar {
	t.Helper()
	cal, err := NewCalendar("Europe/Amsterdam")
	require.NoError(t, err)
	return cal
}

func TestNewCalendar_UnknownZone(t *testing.T) {
	_, err := NewCalendar("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestDayBoundaries(t *testing.T) {
	cal := amsterdam(t)
	at := cal.Date(2024, time.March, 4, 15, 42)

	start := cal.StartOfDay(at)
	end := cal.EndOfDay(at)

	assert.Equal(t, cal.Date(2024, time.March, 4, 0, 0), start)
	assert.Equal(t, cal.Date(2024, time.March, 5, 0, 0).Add(-time.Microsecond), end)
	assert.Equal(t, cal.Date(2024, time.March, 5, 0, 0), cal.StartOfNextDay(at))
}

func TestExclusiveBoundaries(t *testing.T) {
	cal := amsterdam(t)
	at := cal.Date(2024, time.March, 6, 15, 0)

	assert.Equal(t, cal.Date(2024, time.March, 11, 0, 0), cal.StartOfNextWeek(at))
	assert.Equal(t, cal.Date(2024, time.April, 1, 0, 0), cal.StartOfNextMonth(at))

	// 2024-03-31 is the CET->CEST transition; the next midnight is 23
	// hours after the day's start, not 24.
	dst := cal.Date(2024, time.March, 31, 12, 0)
	assert.Equal(t, 23*time.Hour, cal.StartOfNextDay(dst).Sub(cal.StartOfDay(dst)))
}

func TestDayBoundaries_DSTSpring(t *testing.T) {
	cal := amsterdam(t)
	// 2024-03-31 is the CET->CEST transition; the day is 23 hours long.
	at := cal.Date(2024, time.March, 31, 12, 0)

	start := cal.StartOfDay(at)
	end := cal.EndOfDay(at)

	assert.Equal(t, 23*time.Hour-time.Microsecond, end.Sub(start))
}

func TestDayBoundaries_DSTFall(t *testing.T) {
	cal := amsterdam(t)
	// 2024-10-27 is the CEST->CET transition; the day is 25 hours long.
	at := cal.Date(2024, time.October, 27, 12, 0)

	assert.Equal(t, 25*time.Hour-time.Microsecond, cal.EndOfDay(at).Sub(cal.StartOfDay(at)))
}

func TestWeekBoundaries(t *testing.T) {
	cal := amsterdam(t)
	tests := []struct {
		name string
		at   time.Time
	}{
		{"monday", cal.Date(2024, time.March, 4, 9, 0)},
		{"wednesday", cal.Date(2024, time.March, 6, 23, 59)},
		{"sunday", cal.Date(2024, time.March, 10, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := cal.StartOfWeek(tt.at)
			end := cal.EndOfWeek(tt.at)
			assert.Equal(t, cal.Date(2024, time.March, 4, 0, 0), start)
			assert.Equal(t, time.Monday, start.Weekday())
			assert.Equal(t, cal.Date(2024, time.March, 11, 0, 0).Add(-time.Microsecond), end)
		})
	}
}

func TestMonthBoundaries(t *testing.T) {
	cal := amsterdam(t)
	at := cal.Date(2024, time.February, 10, 8, 30)

	assert.Equal(t, cal.Date(2024, time.February, 1, 0, 0), cal.StartOfMonth(at))
	// 2024 is a leap year.
	assert.Equal(t, cal.Date(2024, time.March, 1, 0, 0).Add(-time.Microsecond), cal.EndOfMonth(at))
}

func TestMonthBoundaries_December(t *testing.T) {
	cal := amsterdam(t)
	at := cal.Date(2023, time.December, 31, 23, 0)

	assert.Equal(t, cal.Date(2024, time.January, 1, 0, 0).Add(-time.Microsecond), cal.EndOfMonth(at))
}

func TestStartOfDay_ConvertsForeignZone(t *testing.T) {
	cal := amsterdam(t)
	// 23:30 UTC on March 3rd is 00:30 local on March 4th.
	utc := time.Date(2024, time.March, 3, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, cal.Date(2024, time.March, 4, 0, 0), cal.StartOfDay(utc))
}

func TestZeroTimePanics(t *testing.T) {
	cal := amsterdam(t)
	assert.Panics(t, func() { cal.StartOfDay(time.Time{}) })
	assert.Panics(t, func() { cal.StartOfMonth(time.Time{}) })
}

func TestSameLocalDay(t *testing.T) {
	cal := amsterdam(t)
	a := time.Date(2024, time.March, 3, 23, 30, 0, 0, time.UTC) // local March 4
	b := cal.Date(2024, time.March, 4, 18, 0)

	assert.True(t, cal.SameLocalDay(a, b))
	assert.False(t, cal.SameLocalDay(a, cal.Date(2024, time.March, 3, 18, 0)))
}
