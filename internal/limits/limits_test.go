package limits

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_Bounds(t *testing.T) {
	cal := NewCalendar(time.UTC, time.Monday)
	// Thursday.
	ref := time.Date(2024, time.March, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		period    Period
		wantStart time.Time
		wantEnd   time.Time
	}{
		{PeriodDay, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodYear, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			start, end := cal.Bounds(tt.period, ref)
			assert.True(t, start.Equal(tt.wantStart), "start %s", start)
			assert.True(t, end.Equal(tt.wantEnd), "end %s", end)
		})
	}
}

func TestCalendar_WeekStartSunday(t *testing.T) {
	cal := NewCalendar(nil, time.Sunday)
	start, _ := cal.Bounds(PeriodWeek, time.Date(2024, time.March, 16, 12, 0, 0, 0, time.UTC))
	assert.True(t, start.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)), "got %s", start)
}

func TestCalendar_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	cal := NewCalendar(tokyo, time.Monday)
	// 16:00Z on the 14th is already the 15th in Tokyo.
	start, _ := cal.Bounds(PeriodDay, time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC))
	assert.Equal(t, 15, start.Day())
}

func TestCounter_Exceeded(t *testing.T) {
	cal := NewCalendar(time.UTC, time.Monday)
	monday := time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)

	counter := NewCounter(cal, []Entry{
		{Start: monday, Duration: 30 * time.Minute},
		{Start: monday.Add(2 * time.Hour), Duration: 30 * time.Minute},
		{Start: monday.AddDate(0, 0, 1), Duration: time.Hour},
	})

	assert.Equal(t, 2, counter.Count(PeriodDay, monday))
	assert.Equal(t, 3, counter.Count(PeriodWeek, monday))
	assert.Equal(t, 2*time.Hour, counter.Booked(PeriodWeek, monday))

	period, exceeded := counter.Exceeded(BookingLimits{PerDay: 2}, DurationLimits{}, monday.Add(4*time.Hour), 30*time.Minute)
	assert.True(t, exceeded)
	assert.Equal(t, PeriodDay, period)

	_, exceeded = counter.Exceeded(BookingLimits{PerDay: 2}, DurationLimits{}, monday.AddDate(0, 0, 2), 30*time.Minute)
	assert.False(t, exceeded, "Wednesday has no bookings yet")

	period, exceeded = counter.Exceeded(BookingLimits{}, DurationLimits{PerWeek: 2 * time.Hour}, monday.AddDate(0, 0, 3), 15*time.Minute)
	assert.True(t, exceeded)
	assert.Equal(t, PeriodWeek, period)

	_, exceeded = counter.Exceeded(BookingLimits{PerWeek: 3}, DurationLimits{}, monday.AddDate(0, 0, 7), 30*time.Minute)
	assert.False(t, exceeded, "next week starts a fresh bucket")

	counter.Add(Entry{Start: monday.AddDate(0, 0, 7), Duration: time.Minute})
	assert.Equal(t, 1, counter.Count(PeriodWeek, monday.AddDate(0, 0, 8)))
}

func TestLimits_IsZero(t *testing.T) {
	assert.True(t, BookingLimits{}.IsZero())
	assert.False(t, BookingLimits{PerYear: 10}.IsZero())
	assert.True(t, DurationLimits{}.IsZero())
	assert.False(t, DurationLimits{PerDay: time.Hour}.IsZero())
}
