package attendance

import (
	"context"
	"strings"
	"time"
)

// Cadet is a program participant.
type Cadet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Cohort    string    `json:"cohort"`
	Group     string    `json:"group"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndReason records which path closed a session.
type EndReason string

const (
	EndSignedOut EndReason = "signed_out"
	EndExpired   EndReason = "expired"
	EndAdminEdit EndReason = "admin_edit"
)

// Session is one continuous attendance interval. A nil End means the session is open.
type Session struct {
	ID        string     `json:"id"`
	CadetID   string     `json:"cadet_id"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	Void      bool       `json:"void"`
	EndReason EndReason  `json:"end_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Open reports whether the session still counts as in progress.
func (s Session) Open() bool {
	return s.End == nil && !s.Void
}

// Override replaces a cadet's computed total on the leaderboard. Stored sessions are unaffected.
type Override struct {
	CadetID   string    `json:"cadet_id"`
	Minutes   int       `json:"minutes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is what a client device remembers about who last signed in from it.
type Identity struct {
	CadetID   string    `json:"cadet_id" firestore:"cadet_id"`
	Name      string    `json:"name" firestore:"name"`
	Cohort    string    `json:"cohort" firestore:"cohort"`
	Group     string    `json:"group" firestore:"group"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

// SignInInput captures the data a cadet submits to start studying.
type SignInInput struct {
	Name   string
	Cohort string
	Group  string
	// Bypass skips the open-window check. Callers must only set it for administrators.
	Bypass bool
}

// CadetKey identifies a cadet for de-duplication.
type CadetKey struct {
	Name   string
	Cohort string
	Group  string
}

// NormalizeName trims s and collapses internal whitespace runs to single spaces.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (k CadetKey) lockKey() string {
	return strings.ToLower(k.Name) + "\x00" + k.Cohort + "\x00" + strings.ToLower(k.Group)
}

// Matches reports whether c is the cadet described by k.
func (k CadetKey) Matches(c Cadet) bool {
	return c.Cohort == k.Cohort &&
		strings.EqualFold(NormalizeName(c.Name), k.Name) &&
		strings.EqualFold(strings.TrimSpace(c.Group), k.Group)
}

// Repository encapsulates persistence for cadets, sessions and overrides.
type Repository interface {
	FindCadet(ctx context.Context, key CadetKey) (Cadet, error)
	GetCadet(ctx context.Context, id string) (Cadet, error)
	CreateCadet(ctx context.Context, cadet Cadet) error
	UpdateCadetName(ctx context.Context, id, name string, updatedAt time.Time) error
	ListCadets(ctx context.Context) ([]Cadet, error)

	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, session Session) error
	// ListSessionsByCadet returns every session of the cadet, void ones included, oldest first.
	ListSessionsByCadet(ctx context.Context, cadetID string) ([]Session, error)
	// ListSessions returns non-void sessions of all cadets, oldest first.
	ListSessions(ctx context.Context) ([]Session, error)
	ListOpenSessions(ctx context.Context) ([]Session, error)
	// VoidSessionsByCadet atomically voids every non-void session of the cadet and returns the
	// affected sessions as they were before voiding.
	VoidSessionsByCadet(ctx context.Context, cadetID string, at time.Time) ([]Session, error)

	GetOverride(ctx context.Context, cadetID string) (Override, error)
	PutOverride(ctx context.Context, override Override) error
	DeleteOverride(ctx context.Context, cadetID string) error
	ListOverrides(ctx context.Context) ([]Override, error)
}

// IdentityStore remembers the current identity of a client device.
type IdentityStore interface {
	Get(ctx context.Context, clientID string) (Identity, error)
	Set(ctx context.Context, clientID string, identity Identity) error
	Clear(ctx context.Context, clientID string) error
}

// Scheduler arms and cancels the automatic expiry of open sessions.
type Scheduler interface {
	Arm(key string, at time.Time, fn func())
	Cancel(key string) bool
}

// Clock delivers the current time; extracted for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for new records.
type IDGenerator interface {
	NewID() string
}
