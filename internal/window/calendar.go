// Package window answers "is the program open?" for a fixed weekly schedule evaluated in a
// named timezone.
package window

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// scanDays bounds the forward search in NextOpen. Any weekly schedule repeats within 7 days;
// the extra day covers a same-weekday candidate that is already in the past.
const scanDays = 8

// Schedule describes the recurring open window.
type Schedule struct {
	Weekdays    []time.Weekday
	StartMinute int // minute of day, inclusive
	EndMinute   int // minute of day, exclusive
	Location    *time.Location
}

// Calendar evaluates a Schedule. It is immutable and safe for concurrent use.
type Calendar struct {
	days     [7]bool
	weekdays []time.Weekday
	start    int
	end      int
	loc      *time.Location
}

// NewCalendar validates s and returns a Calendar for it.
func NewCalendar(s Schedule) (*Calendar, error) {
	var problems []string
	if len(s.Weekdays) == 0 {
		problems = append(problems, "at least one weekday is required")
	}
	if s.StartMinute < 0 || s.StartMinute >= minutesPerDay {
		problems = append(problems, "start minute must be within the day")
	}
	if s.EndMinute <= s.StartMinute || s.EndMinute > minutesPerDay {
		problems = append(problems, "end minute must be after start minute and within the day")
	}
	if s.Location == nil {
		problems = append(problems, "location is required")
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	c := &Calendar{start: s.StartMinute, end: s.EndMinute, loc: s.Location}
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		if !c.days[d] {
			c.days[d] = true
			c.weekdays = append(c.weekdays, d)
		}
	}
	sort.Slice(c.weekdays, func(i, j int) bool { return c.weekdays[i] < c.weekdays[j] })
	return c, nil
}

// Location returns the program timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Weekdays returns the configured weekdays in Sunday-first order.
func (c *Calendar) Weekdays() []time.Weekday {
	out := make([]time.Weekday, len(c.weekdays))
	copy(out, c.weekdays)
	return out
}

// StartMinute and EndMinute return the configured [start, end) minute-of-day bounds.
func (c *Calendar) StartMinute() int { return c.start }
func (c *Calendar) EndMinute() int   { return c.end }

// IsOpen reports whether t falls inside an open window.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if !c.days[local.Weekday()] {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	return m >= c.start && m < c.end
}

// NextOpen returns the earliest window start strictly after t. If the scan finds no such
// candidate, the earliest candidate scanned is returned instead.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	var fallback time.Time
	for offset := 0; offset < scanDays; offset++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+offset, 0, 0, 0, 0, c.loc)
		if !c.days[day.Weekday()] {
			continue
		}
		candidate := c.at(day, c.start)
		if candidate.After(t) {
			return candidate
		}
		if fallback.IsZero() || candidate.Before(fallback) {
			fallback = candidate
		}
	}
	return fallback
}

// Bounds returns the window on t's calendar date in the program timezone. ok is false when
// that date has no window.
func (c *Calendar) Bounds(t time.Time) (start, end time.Time, ok bool) {
	local := t.In(c.loc)
	if !c.days[local.Weekday()] {
		return time.Time{}, time.Time{}, false
	}
	return c.at(local, c.start), c.at(local, c.end), true
}

// SameDay reports whether a and b share a calendar date in the program timezone.
func (c *Calendar) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	return ay == by && am == bm && ad == bd
}

// at builds the instant for minute-of-day m on day's date using the zone rules in effect
// on that date.
func (c *Calendar) at(day time.Time, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, c.loc)
}

// ParseWeekday accepts English weekday names or their three letter prefixes.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) >= 3 && strings.HasPrefix(full, name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseClock parses "HH:MM" into a minute of day. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	t := strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(t, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	if m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}
