package window

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYorkCalendar(t *testing.T) (*Calendar, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal, err := NewCalendar(Schedule{
		Weekdays:    []time.Weekday{time.Monday, time.Wednesday},
		StartMinute: 19*60 + 30,
		EndMinute:   21*60 + 30,
		Location:    loc,
	})
	require.NoError(t, err)
	return cal, loc
}

func TestIsOpenTruthTable(t *testing.T) {
	cal, loc := newYorkCalendar(t)
	at := func(y int, m time.Month, d, hh, mm, ss int) time.Time {
		return time.Date(y, m, d, hh, mm, ss, 0, loc)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday before window", at(2026, time.October, 12, 19, 29, 59), false},
		{"monday at start", at(2026, time.October, 12, 19, 30, 0), true},
		{"monday mid window", at(2026, time.October, 12, 20, 15, 0), true},
		{"monday last second", at(2026, time.October, 12, 21, 29, 59), true},
		{"monday at end", at(2026, time.October, 12, 21, 30, 0), false},
		{"wednesday at start", at(2026, time.October, 14, 19, 30, 0), true},
		{"tuesday same clock", at(2026, time.October, 13, 20, 0, 0), false},
		{"thursday same clock", at(2026, time.October, 15, 20, 0, 0), false},
		{"sunday same clock", at(2026, time.October, 11, 20, 0, 0), false},
		{"monday after DST ends", at(2026, time.November, 2, 19, 30, 0), true},
		{"monday before DST starts", at(2026, time.March, 2, 21, 29, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsOpen(tt.at))
			assert.Equal(t, tt.want, cal.IsOpen(tt.at.UTC()), "evaluation must not depend on the instant's zone")
		})
	}
}

func TestIsOpenUsesZoneRulesNotFixedOffset(t *testing.T) {
	cal, _ := newYorkCalendar(t)

	// 23:30 UTC is 19:30 EDT in October but 18:30 EST in November.
	assert.True(t, cal.IsOpen(time.Date(2026, time.October, 26, 23, 30, 0, 0, time.UTC)))
	assert.False(t, cal.IsOpen(time.Date(2026, time.November, 2, 23, 30, 0, 0, time.UTC)))
	assert.True(t, cal.IsOpen(time.Date(2026, time.November, 3, 0, 30, 0, 0, time.UTC)))
}

func TestNextOpen(t *testing.T) {
	cal, loc := newYorkCalendar(t)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"monday morning", time.Date(2026, time.October, 12, 8, 0, 0, 0, loc), time.Date(2026, time.October, 12, 19, 30, 0, 0, loc)},
		{"exactly at start", time.Date(2026, time.October, 12, 19, 30, 0, 0, loc), time.Date(2026, time.October, 14, 19, 30, 0, 0, loc)},
		{"during window", time.Date(2026, time.October, 12, 20, 0, 0, 0, loc), time.Date(2026, time.October, 14, 19, 30, 0, 0, loc)},
		{"thursday", time.Date(2026, time.October, 15, 12, 0, 0, 0, loc), time.Date(2026, time.October, 19, 19, 30, 0, 0, loc)},
		{"wednesday night", time.Date(2026, time.October, 14, 23, 0, 0, 0, loc), time.Date(2026, time.October, 19, 19, 30, 0, 0, loc)},
		{"across DST end", time.Date(2026, time.October, 29, 9, 0, 0, 0, loc), time.Date(2026, time.November, 2, 19, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.NextOpen(tt.from)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestNextOpenIsStrictlyLaterAndOpen(t *testing.T) {
	cal, loc := newYorkCalendar(t)
	from := time.Date(2026, time.January, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 24*60; i++ {
		now := from.Add(time.Duration(i) * 7 * time.Minute)
		next := cal.NextOpen(now)
		require.True(t, next.After(now), "next open %s not after %s", next, now)
		require.True(t, cal.IsOpen(next), "next open %s is not open", next)
	}
}

func TestBounds(t *testing.T) {
	cal, loc := newYorkCalendar(t)

	start, end, ok := cal.Bounds(time.Date(2026, time.October, 12, 3, 0, 0, 0, loc))
	require.True(t, ok)
	assert.True(t, start.Equal(time.Date(2026, time.October, 12, 19, 30, 0, 0, loc)))
	assert.True(t, end.Equal(time.Date(2026, time.October, 12, 21, 30, 0, 0, loc)))

	_, _, ok = cal.Bounds(time.Date(2026, time.October, 13, 20, 0, 0, 0, loc))
	assert.False(t, ok)
}

func TestSameDay(t *testing.T) {
	cal, loc := newYorkCalendar(t)
	a := time.Date(2026, time.October, 12, 23, 59, 0, 0, loc)
	assert.True(t, cal.SameDay(a, time.Date(2026, time.October, 12, 0, 0, 0, 0, loc)))
	// 03:59 UTC on the 13th is still the 12th in New York.
	assert.True(t, cal.SameDay(a, a.UTC()))
	assert.False(t, cal.SameDay(a, a.Add(time.Minute)))
}

func TestNewCalendarValidation(t *testing.T) {
	_, err := NewCalendar(Schedule{StartMinute: 10, EndMinute: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekday")
	assert.Contains(t, err.Error(), "end minute")
	assert.Contains(t, err.Error(), "location")
}

func TestParseHelpers(t *testing.T) {
	d, err := ParseWeekday(" Wed ")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, d)

	_, err = ParseWeekday("funday")
	assert.Error(t, err)

	m, err := ParseClock("19:30")
	require.NoError(t, err)
	assert.Equal(t, 1170, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}
