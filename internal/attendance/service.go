package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	maxNameLength  = 80
	maxGroupLength = 40
	expiryTimeout  = 10 * time.Second
)

// Options toggles the per-program features.
type Options struct {
	Cohorts          []string
	EnableOverrides  bool
	EnableNightlyCap bool
}

// Dependencies are the collaborators of the Service.
type Dependencies struct {
	Repo       Repository
	Identities IdentityStore
	Ledger     *Ledger
	Scheduler  Scheduler
	Clock      Clock
	IDs        IDGenerator
	Logger     *slog.Logger
}

// Service drives the session lifecycle and the administrator operations.
type Service struct {
	repo       Repository
	identities IdentityStore
	ledger     *Ledger
	scheduler  Scheduler
	clock      Clock
	ids        IDGenerator
	logger     *slog.Logger
	opts       Options
	cohorts    map[string]struct{}
	locks      *keyedMutex
}

// NewService constructs a Service instance with the provided collaborators.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("repo is required")
	case deps.Identities == nil:
		return nil, errors.New("identity store is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case len(opts.Cohorts) == 0:
		return nil, errors.New("at least one cohort is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cohorts := make(map[string]struct{}, len(opts.Cohorts))
	for _, c := range opts.Cohorts {
		cohorts[c] = struct{}{}
	}

	return &Service{
		repo:       deps.Repo,
		identities: deps.Identities,
		ledger:     deps.Ledger,
		scheduler:  deps.Scheduler,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     logger,
		opts:       opts,
		cohorts:    cohorts,
		locks:      newKeyedMutex(),
	}, nil
}

// Ledger exposes the accounting rules in use.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Cohorts returns the configured cohort tags.
func (s *Service) Cohorts() []string {
	out := make([]string, len(s.opts.Cohorts))
	copy(out, s.opts.Cohorts)
	return out
}

// SignInResult describes the session a sign-in produced or resumed.
type SignInResult struct {
	Cadet          Cadet   `json:"cadet"`
	Session        Session `json:"session"`
	Resumed        bool    `json:"resumed"`
	ElapsedMinutes int     `json:"elapsed_minutes"`
	AccruedTonight int     `json:"accrued_tonight_minutes"`
}

// SignIn opens a session for the cadet described by input, or resumes the one already open.
// clientID, when non-empty, remembers the cadet as the device's current identity.
func (s *Service) SignIn(ctx context.Context, clientID string, input SignInInput) (SignInResult, error) {
	key, err := s.validateSignIn(input)
	if err != nil {
		return SignInResult{}, err
	}

	now := s.clock.Now()
	cal := s.ledger.Calendar()
	if !input.Bypass && !cal.IsOpen(now) {
		return SignInResult{}, &ClosedWindowError{NextOpen: cal.NextOpen(now)}
	}

	cadet, rename, err := s.resolveCadet(ctx, key, now)
	if err != nil {
		return SignInResult{}, err
	}

	unlock := s.locks.Lock(cadetLock(cadet.ID))
	defer unlock()

	sessions, err := s.repo.ListSessionsByCadet(ctx, cadet.ID)
	if err != nil {
		return SignInResult{}, persistErr("list sessions", err)
	}
	accrued := s.ledger.AccruedTonight(sessions, now)

	if open, ok := openSession(sessions); ok {
		cadet, err = s.settleCadet(ctx, clientID, cadet, rename, now)
		if err != nil {
			return SignInResult{}, err
		}
		s.armExpiry(open)
		s.logger.Info("session resumed", "cadet_id", cadet.ID, "session_id", open.ID)
		return SignInResult{
			Cadet:          cadet,
			Session:        open,
			Resumed:        true,
			ElapsedMinutes: s.ledger.ElapsedCurrent(open, now),
			AccruedTonight: accrued,
		}, nil
	}

	if nightlyCap := s.ledger.Rules().NightlyCapMinutes; s.opts.EnableNightlyCap && accrued >= nightlyCap {
		return SignInResult{}, &CapExceededError{Accrued: accrued, Cap: nightlyCap}
	}

	session := Session{
		ID:        s.ids.NewID(),
		CadetID:   cadet.ID,
		Start:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return SignInResult{}, persistErr("create session", err)
	}

	cadet, err = s.settleCadet(ctx, clientID, cadet, rename, now)
	if err != nil {
		s.discardSession(ctx, session, now)
		return SignInResult{}, err
	}
	s.armExpiry(session)

	s.logger.Info("session opened", "cadet_id", cadet.ID, "session_id", session.ID, "bypass", input.Bypass)
	return SignInResult{Cadet: cadet, Session: session, AccruedTonight: accrued}, nil
}

// SignOut closes the cadet's open session at the current time.
func (s *Service) SignOut(ctx context.Context, cadetID string) (Session, error) {
	if strings.TrimSpace(cadetID) == "" {
		return Session{}, ErrNoOpenSession
	}

	unlock := s.locks.Lock(cadetLock(cadetID))
	defer unlock()

	sessions, err := s.repo.ListSessionsByCadet(ctx, cadetID)
	if err != nil {
		return Session{}, persistErr("list sessions", err)
	}
	open, ok := openSession(sessions)
	if !ok {
		return Session{}, ErrNoOpenSession
	}

	now := s.clock.Now()
	open.End = &now
	open.EndReason = EndSignedOut
	open.UpdatedAt = now
	if err := s.repo.UpdateSession(ctx, open); err != nil {
		return Session{}, persistErr("close session", err)
	}
	s.scheduler.Cancel(open.ID)

	s.logger.Info("session closed", "cadet_id", cadetID, "session_id", open.ID, "minutes", s.ledger.ElapsedCurrent(open, now))
	return open, nil
}

// SignOutClient signs out the cadet remembered for clientID.
func (s *Service) SignOutClient(ctx context.Context, clientID string) (Session, error) {
	identity, err := s.Whoami(ctx, clientID)
	if err != nil {
		return Session{}, err
	}
	return s.SignOut(ctx, identity.CadetID)
}

// Expire closes the session at exactly Start+SessionMax if it is still open. It is a no-op for
// sessions closed or voided through any other path.
func (s *Service) Expire(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return persistErr("get session", err)
	}

	unlock := s.locks.Lock(cadetLock(session.CadetID))
	defer unlock()

	// Re-read under the lock; sign-out or an admin edit may have won the race.
	session, err = s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return persistErr("get session", err)
	}
	if !session.Open() {
		return nil
	}

	end := session.Start.Add(s.ledger.SessionMax())
	session.End = &end
	session.EndReason = EndExpired
	session.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return persistErr("expire session", err)
	}

	s.logger.Info("session expired", "cadet_id", session.CadetID, "session_id", session.ID)
	return nil
}

// RecoverOpenSessions re-arms the expiry of every open session, e.g. after a restart.
// Overdue sessions expire immediately.
func (s *Service) RecoverOpenSessions(ctx context.Context) (int, error) {
	open, err := s.repo.ListOpenSessions(ctx)
	if err != nil {
		return 0, persistErr("list open sessions", err)
	}
	for _, session := range open {
		s.armExpiry(session)
	}
	return len(open), nil
}

// EditSession overwrites the timestamps of a session. A nil end reopens it. No lifecycle
// rules apply; administrators are trusted.
func (s *Service) EditSession(ctx context.Context, sessionID string, start time.Time, end *time.Time) (Session, error) {
	if start.IsZero() {
		return Session{}, fmt.Errorf("%w: start is required", ErrValidation)
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, persistErr("get session", err)
	}

	unlock := s.locks.Lock(cadetLock(session.CadetID))
	defer unlock()

	session, err = s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, persistErr("get session", err)
	}

	session.Start = start
	session.End = end
	session.EndReason = ""
	if end != nil {
		session.EndReason = EndAdminEdit
	}
	session.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return Session{}, persistErr("edit session", err)
	}

	if session.Open() {
		s.armExpiry(session)
	} else {
		s.scheduler.Cancel(session.ID)
	}

	s.logger.Info("session edited", "cadet_id", session.CadetID, "session_id", session.ID, "open", session.Open())
	return session, nil
}

// VoidCadet voids every session of the cadet, removing them from the leaderboard.
func (s *Service) VoidCadet(ctx context.Context, cadetID string) (int, error) {
	if _, err := s.repo.GetCadet(ctx, cadetID); err != nil {
		return 0, persistErr("get cadet", err)
	}

	unlock := s.locks.Lock(cadetLock(cadetID))
	defer unlock()

	voided, err := s.repo.VoidSessionsByCadet(ctx, cadetID, s.clock.Now())
	if err != nil {
		return 0, persistErr("void sessions", err)
	}
	for _, session := range voided {
		if session.End == nil {
			s.scheduler.Cancel(session.ID)
		}
	}

	s.logger.Info("cadet voided", "cadet_id", cadetID, "sessions", len(voided))
	return len(voided), nil
}

// SetOverride replaces the cadet's displayed leaderboard total.
func (s *Service) SetOverride(ctx context.Context, cadetID string, minutes int) (Override, error) {
	if !s.opts.EnableOverrides {
		return Override{}, ErrOverridesDisabled
	}
	if minutes < 0 {
		return Override{}, fmt.Errorf("%w: minutes must be non-negative", ErrValidation)
	}
	if _, err := s.repo.GetCadet(ctx, cadetID); err != nil {
		return Override{}, persistErr("get cadet", err)
	}

	override := Override{CadetID: cadetID, Minutes: minutes, UpdatedAt: s.clock.Now()}
	if err := s.repo.PutOverride(ctx, override); err != nil {
		return Override{}, persistErr("put override", err)
	}

	s.logger.Info("override set", "cadet_id", cadetID, "minutes", minutes)
	return override, nil
}

// ClearOverride removes the cadet's override.
func (s *Service) ClearOverride(ctx context.Context, cadetID string) error {
	if !s.opts.EnableOverrides {
		return ErrOverridesDisabled
	}
	if err := s.repo.DeleteOverride(ctx, cadetID); err != nil {
		return persistErr("delete override", err)
	}
	s.logger.Info("override cleared", "cadet_id", cadetID)
	return nil
}

// ListCadetSessions returns every session of a cadet, void ones included, for review.
func (s *Service) ListCadetSessions(ctx context.Context, cadetID string) ([]Session, error) {
	if _, err := s.repo.GetCadet(ctx, cadetID); err != nil {
		return nil, persistErr("get cadet", err)
	}
	sessions, err := s.repo.ListSessionsByCadet(ctx, cadetID)
	if err != nil {
		return nil, persistErr("list sessions", err)
	}
	return sessions, nil
}

// Leaderboard ranks all cadets, optionally narrowed to a cohort.
func (s *Service) Leaderboard(ctx context.Context, cohort string) ([]LeaderboardRow, error) {
	cohort = strings.TrimSpace(cohort)
	if cohort != "" {
		if _, ok := s.cohorts[cohort]; !ok {
			return nil, fmt.Errorf("%w: unknown cohort %q", ErrValidation, cohort)
		}
	}

	var (
		cadets    []Cadet
		sessions  []Session
		overrides []Override
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.repo.ListCadets(gctx)
		if err != nil {
			return persistErr("list cadets", err)
		}
		cadets = c
		return nil
	})
	g.Go(func() error {
		ss, err := s.repo.ListSessions(gctx)
		if err != nil {
			return persistErr("list sessions", err)
		}
		sessions = ss
		return nil
	})
	if s.opts.EnableOverrides {
		g.Go(func() error {
			o, err := s.repo.ListOverrides(gctx)
			if err != nil {
				return persistErr("list overrides", err)
			}
			overrides = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := s.ledger.BuildLeaderboard(cadets, sessions, overrides, s.opts.EnableOverrides, s.clock.Now())
	return FilterCohort(rows, cohort), nil
}

// Status summarizes a cadet's standing for display.
type Status struct {
	Cadet                 Cadet      `json:"cadet"`
	OpenSession           *Session   `json:"open_session,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	ElapsedMinutes        int        `json:"elapsed_minutes"`
	AccruedTonightMinutes int        `json:"accrued_tonight_minutes"`
	NightlyCapMinutes     int        `json:"nightly_cap_minutes"`
	TotalMinutes          int        `json:"total_minutes"`
	RewardDays            int        `json:"reward_days"`
	WindowOpen            bool       `json:"window_open"`
	NextOpen              time.Time  `json:"next_open"`
}

// Status computes the live figures for one cadet. Totals are always the computed values;
// overrides only affect the leaderboard.
func (s *Service) Status(ctx context.Context, cadetID string) (Status, error) {
	cadet, err := s.repo.GetCadet(ctx, cadetID)
	if err != nil {
		return Status{}, persistErr("get cadet", err)
	}
	sessions, err := s.repo.ListSessionsByCadet(ctx, cadetID)
	if err != nil {
		return Status{}, persistErr("list sessions", err)
	}

	now := s.clock.Now()
	cal := s.ledger.Calendar()
	total := s.ledger.AllTimeTotal(sessions, now)
	st := Status{
		Cadet:                 cadet,
		AccruedTonightMinutes: s.ledger.AccruedTonight(sessions, now),
		NightlyCapMinutes:     s.ledger.Rules().NightlyCapMinutes,
		TotalMinutes:          total,
		RewardDays:            s.ledger.RewardDays(total),
		WindowOpen:            cal.IsOpen(now),
		NextOpen:              cal.NextOpen(now),
	}
	if open, ok := openSession(sessions); ok {
		expiresAt := open.Start.Add(s.ledger.SessionMax())
		st.OpenSession = &open
		st.ExpiresAt = &expiresAt
		st.ElapsedMinutes = s.ledger.ElapsedCurrent(open, now)
	}
	return st, nil
}

// Whoami returns the identity remembered for clientID.
func (s *Service) Whoami(ctx context.Context, clientID string) (Identity, error) {
	if strings.TrimSpace(clientID) == "" {
		return Identity{}, ErrNoIdentity
	}
	identity, err := s.identities.Get(ctx, clientID)
	if err != nil {
		return Identity{}, persistErr("get identity", err)
	}
	return identity, nil
}

// Forget clears the identity remembered for clientID.
func (s *Service) Forget(ctx context.Context, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return ErrNoIdentity
	}
	return persistErr("clear identity", s.identities.Clear(ctx, clientID))
}

// WindowInfo describes the schedule for countdown displays.
type WindowInfo struct {
	Open        bool      `json:"open"`
	NextOpen    time.Time `json:"next_open"`
	Timezone    string    `json:"timezone"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	Weekdays    []string  `json:"weekdays"`
	Cohorts     []string  `json:"cohorts"`
}

// Window reports the schedule as of now.
func (s *Service) Window() WindowInfo {
	now := s.clock.Now()
	cal := s.ledger.Calendar()
	days := cal.Weekdays()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return WindowInfo{
		Open:        cal.IsOpen(now),
		NextOpen:    cal.NextOpen(now),
		Timezone:    cal.Location().String(),
		StartMinute: cal.StartMinute(),
		EndMinute:   cal.EndMinute(),
		Weekdays:    names,
		Cohorts:     s.Cohorts(),
	}
}

func (s *Service) validateSignIn(input SignInInput) (CadetKey, error) {
	key := CadetKey{
		Name:   NormalizeName(input.Name),
		Cohort: strings.TrimSpace(input.Cohort),
		Group:  strings.TrimSpace(input.Group),
	}

	var problems []string
	if key.Name == "" {
		problems = append(problems, "name is required")
	} else if utf8.RuneCountInString(key.Name) > maxNameLength {
		problems = append(problems, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if key.Cohort == "" {
		problems = append(problems, "cohort is required")
	} else if _, ok := s.cohorts[key.Cohort]; !ok {
		problems = append(problems, fmt.Sprintf("cohort must be one of: %s", strings.Join(s.opts.Cohorts, ", ")))
	}
	if utf8.RuneCountInString(key.Group) > maxGroupLength {
		problems = append(problems, fmt.Sprintf("group must be at most %d characters", maxGroupLength))
	}

	if len(problems) > 0 {
		return CadetKey{}, fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return key, nil
}

// resolveCadet finds the cadet for key or creates one. rename is the corrected display name
// when the stored spelling differs; it is written only once the sign-in succeeds.
func (s *Service) resolveCadet(ctx context.Context, key CadetKey, now time.Time) (cadet Cadet, rename string, err error) {
	unlock := s.locks.Lock("identity:" + key.lockKey())
	defer unlock()

	cadet, err = s.repo.FindCadet(ctx, key)
	switch {
	case err == nil:
		if cadet.Name != key.Name {
			rename = key.Name
		}
		return cadet, rename, nil
	case errors.Is(err, ErrNotFound):
	default:
		return Cadet{}, "", persistErr("find cadet", err)
	}

	cadet = Cadet{
		ID:        s.ids.NewID(),
		Name:      key.Name,
		Cohort:    key.Cohort,
		Group:     key.Group,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateCadet(ctx, cadet); err != nil {
		return Cadet{}, "", persistErr("create cadet", err)
	}
	s.logger.Info("cadet registered", "cadet_id", cadet.ID, "cohort", cadet.Cohort)
	return cadet, "", nil
}

// settleCadet applies a pending name correction and remembers the device identity.
func (s *Service) settleCadet(ctx context.Context, clientID string, cadet Cadet, rename string, now time.Time) (Cadet, error) {
	if rename != "" {
		if err := s.repo.UpdateCadetName(ctx, cadet.ID, rename, now); err != nil {
			return Cadet{}, persistErr("update cadet", err)
		}
		cadet.Name = rename
		cadet.UpdatedAt = now
	}
	if err := s.remember(ctx, clientID, cadet, now); err != nil {
		return Cadet{}, err
	}
	return cadet, nil
}

// discardSession voids a session created by a sign-in that failed afterwards, so it never counts.
func (s *Service) discardSession(ctx context.Context, session Session, now time.Time) {
	session.Void = true
	session.End = &now
	session.UpdatedAt = now
	if err := s.repo.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
		s.logger.Error("discard session failed", "session_id", session.ID, "error", err)
	}
}

func (s *Service) remember(ctx context.Context, clientID string, cadet Cadet, now time.Time) error {
	if strings.TrimSpace(clientID) == "" {
		return nil
	}
	err := s.identities.Set(ctx, clientID, Identity{
		CadetID:   cadet.ID,
		Name:      cadet.Name,
		Cohort:    cadet.Cohort,
		Group:     cadet.Group,
		UpdatedAt: now,
	})
	return persistErr("set identity", err)
}

func (s *Service) armExpiry(session Session) {
	id := session.ID
	s.scheduler.Arm(id, session.Start.Add(s.ledger.SessionMax()), func() {
		ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
		defer cancel()
		if err := s.Expire(ctx, id); err != nil {
			s.logger.Error("session expiry failed", "session_id", id, "error", err)
		}
	})
}

func openSession(sessions []Session) (Session, bool) {
	for _, session := range sessions {
		if session.Open() {
			return session, true
		}
	}
	return Session{}, false
}

func cadetLock(id string) string {
	return "cadet:" + id
}
