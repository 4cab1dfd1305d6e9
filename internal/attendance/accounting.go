package attendance

import (
	"errors"
	"time"

	"github.com/asptrack/asp-service/internal/window"
)

// Rules holds the minute thresholds of the program.
type Rules struct {
	// NightlyCapMinutes bounds the window minutes a cadet may accrue on one date before
	// further sign-ins are refused.
	NightlyCapMinutes int
	// SessionMaxMinutes is the longest a single session may run before it expires.
	SessionMaxMinutes int
	// RewardDayMinutes is the number of minutes worth one reward day.
	RewardDayMinutes int
}

// Ledger converts sessions into minute totals. All methods are pure.
type Ledger struct {
	cal   *window.Calendar
	rules Rules
}

// NewLedger constructs a Ledger over the given calendar.
func NewLedger(cal *window.Calendar, rules Rules) (*Ledger, error) {
	if cal == nil {
		return nil, errors.New("calendar is required")
	}
	if rules.NightlyCapMinutes <= 0 || rules.SessionMaxMinutes <= 0 || rules.RewardDayMinutes <= 0 {
		return nil, errors.New("nightly cap, session max and reward day minutes must be positive")
	}
	return &Ledger{cal: cal, rules: rules}, nil
}

// Calendar returns the window calendar the ledger evaluates against.
func (l *Ledger) Calendar() *window.Calendar { return l.cal }

// Rules returns the configured thresholds.
func (l *Ledger) Rules() Rules { return l.rules }

// SessionMax is the expiry duration of a session.
func (l *Ledger) SessionMax() time.Duration {
	return time.Duration(l.rules.SessionMaxMinutes) * time.Minute
}

// ElapsedCurrent is the credited length of s: up to now while open, up to End once closed,
// never beyond SessionMaxMinutes.
func (l *Ledger) ElapsedCurrent(s Session, now time.Time) int {
	return clamp(wholeMinutes(l.effectiveEnd(s, now).Sub(s.Start)), 0, l.rules.SessionMaxMinutes)
}

// AccruedTonight sums the window overlap of the non-void sessions that started on now's date,
// clamped to the nightly cap. Time outside the window never counts: neither lingering past
// the close nor arriving before the open.
func (l *Ledger) AccruedTonight(sessions []Session, now time.Time) int {
	total := 0
	for _, s := range sessions {
		if s.Void || !l.cal.SameDay(s.Start, now) {
			continue
		}
		total += l.windowOverlap(s, now)
	}
	return clamp(total, 0, l.rules.NightlyCapMinutes)
}

// AllTimeTotal sums every non-void session's overlap with the window of its own start date.
// No nightly clamp applies; open sessions count up to now.
func (l *Ledger) AllTimeTotal(sessions []Session, now time.Time) int {
	total := 0
	for _, s := range sessions {
		if s.Void {
			continue
		}
		total += l.windowOverlap(s, now)
	}
	return total
}

// RewardDays converts minutes into whole reward days.
func (l *Ledger) RewardDays(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return minutes / l.rules.RewardDayMinutes
}

func (l *Ledger) effectiveEnd(s Session, now time.Time) time.Time {
	end := now
	if s.End != nil {
		end = *s.End
	}
	if limit := s.Start.Add(l.SessionMax()); end.After(limit) {
		end = limit
	}
	return end
}

// windowOverlap is the floored minutes of [Start, End-or-now] inside the window of the start
// date. The window itself bounds the result, so no session-length clamp applies here.
func (l *Ledger) windowOverlap(s Session, now time.Time) int {
	ws, we, ok := l.cal.Bounds(s.Start)
	if !ok {
		return 0
	}
	start := s.Start
	if ws.After(start) {
		start = ws
	}
	end := now
	if s.End != nil {
		end = *s.End
	}
	if we.Before(end) {
		end = we
	}
	if !end.After(start) {
		return 0
	}
	return wholeMinutes(end.Sub(start))
}

func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
