package attendance

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/asptrack/asp-service/internal/window"
)

var newYork = mustLocation("America/New_York")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// oct returns a wall-clock instant in New York during October 2026. The 12th, 19th and 26th
// are Mondays; the 14th and 21st are Wednesdays.
func oct(day, hour, minute int) time.Time {
	return time.Date(2026, time.October, day, hour, minute, 0, 0, newYork)
}

func ptr(t time.Time) *time.Time { return &t }

func testCalendar(t *testing.T, startMinute, endMinute int) *window.Calendar {
	t.Helper()
	cal, err := window.NewCalendar(window.Schedule{
		Weekdays:    []time.Weekday{time.Monday, time.Wednesday},
		StartMinute: startMinute,
		EndMinute:   endMinute,
		Location:    newYork,
	})
	require.NoError(t, err)
	return cal
}

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(testCalendar(t, 19*60+30, 21*60+30), Rules{
		NightlyCapMinutes: 120,
		SessionMaxMinutes: 120,
		RewardDayMinutes:  240,
	})
	require.NoError(t, err)
	return ledger
}

func closed(id, cadetID string, start, end time.Time) Session {
	return Session{ID: id, CadetID: cadetID, Start: start, End: ptr(end)}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

type armed struct {
	at time.Time
	fn func()
}

// manualScheduler records armed timers; tests fire them explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers map[string]armed
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{timers: make(map[string]armed)}
}

func (m *manualScheduler) Arm(key string, at time.Time, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[key] = armed{at: at, fn: fn}
}

func (m *manualScheduler) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key]
	delete(m.timers, key)
	return ok
}

func (m *manualScheduler) Armed(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.timers[key]
	return a.at, ok
}

func (m *manualScheduler) Fire(t *testing.T, key string) {
	t.Helper()
	m.mu.Lock()
	a, ok := m.timers[key]
	delete(m.timers, key)
	m.mu.Unlock()
	require.True(t, ok, "no timer armed for %s", key)
	a.fn()
}

type fixture struct {
	svc        *Service
	repo       Repository
	identities IdentityStore
	clock      *fakeClock
	sched      *manualScheduler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWith(t, opts, NewMemoryRepository(), NewMemoryIdentityStore())
}

func newFixtureWith(t *testing.T, opts Options, repo Repository, identities IdentityStore) *fixture {
	t.Helper()
	if len(opts.Cohorts) == 0 {
		opts.Cohorts = []string{"2027", "2028"}
	}
	f := &fixture{
		repo:       repo,
		identities: identities,
		clock:      &fakeClock{now: oct(12, 19, 30)},
		sched:      newManualScheduler(),
	}
	svc, err := NewService(Dependencies{
		Repo:       f.repo,
		Identities: f.identities,
		Ledger:     testLedger(t),
		Scheduler:  f.sched,
		Clock:      f.clock,
		IDs:        &seqIDs{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func defaultOptions() Options {
	return Options{EnableOverrides: true, EnableNightlyCap: true}
}
