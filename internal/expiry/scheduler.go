// Package expiry runs deferred, cancellable, fire-once callbacks keyed by an identifier.
package expiry

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns at most one pending timer per key. Arming a key again replaces its timer.
type Scheduler struct {
	mu      sync.Mutex
	now     func() time.Time
	timers  map[string]*entry
	nextGen uint64
	stopped bool
	logger  *slog.Logger
}

type entry struct {
	gen   uint64
	timer *time.Timer
}

// New returns a Scheduler using the wall clock.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{now: time.Now, timers: make(map[string]*entry), logger: logger}
}

// Arm schedules fn to run once at `at`. Instants in the past fire immediately. Any timer
// already armed for key is cancelled first.
func (s *Scheduler) Arm(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}

	s.nextGen++
	e := &entry{gen: s.nextGen}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() {
		if !s.claim(key, e.gen) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("expiry callback panicked", "key", key, "panic", r)
			}
		}()
		fn()
	})
	s.timers[key] = e
}

// claim removes key's entry if it still belongs to generation gen. Only the claiming
// goroutine may run the callback, so a replaced or cancelled timer never fires.
func (s *Scheduler) claim(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.timers, key)
	return true
}

// Cancel stops the timer armed for key. It reports whether a pending timer was removed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, key)
	}
	s.stopped = true
}
