package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu        sync.RWMutex
	cadets    map[string]Cadet
	sessions  map[string]Session
	overrides map[string]Override
}

// NewMemoryRepository returns an in-memory repository intended for local development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		cadets:    make(map[string]Cadet),
		sessions:  make(map[string]Session),
		overrides: make(map[string]Override),
	}
}

func (r *memoryRepository) FindCadet(_ context.Context, key CadetKey) (Cadet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found Cadet
		ok    bool
	)
	for _, c := range r.cadets {
		if !key.Matches(c) {
			continue
		}
		// Oldest wins if duplicates ever slipped in.
		if !ok || c.CreatedAt.Before(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return Cadet{}, ErrNotFound
	}
	return found, nil
}

func (r *memoryRepository) GetCadet(_ context.Context, id string) (Cadet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cadets[id]
	if !ok {
		return Cadet{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) CreateCadet(_ context.Context, cadet Cadet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cadets[cadet.ID]; exists {
		return ErrConflict
	}
	r.cadets[cadet.ID] = cadet
	return nil
}

func (r *memoryRepository) UpdateCadetName(_ context.Context, id, name string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cadets[id]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	c.UpdatedAt = updatedAt
	r.cadets[id] = c
	return nil
}

func (r *memoryRepository) ListCadets(_ context.Context) ([]Cadet, error) {
	r.mu.RLock()
	out := make([]Cadet, 0, len(r.cadets))
	for _, c := range r.cadets {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) CreateSession(_ context.Context, session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return ErrConflict
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *memoryRepository) GetSession(_ context.Context, id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *memoryRepository) UpdateSession(_ context.Context, session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *memoryRepository) ListSessionsByCadet(_ context.Context, cadetID string) ([]Session, error) {
	return r.snapshot(func(s Session) bool { return s.CadetID == cadetID }), nil
}

func (r *memoryRepository) ListSessions(_ context.Context) ([]Session, error) {
	return r.snapshot(func(s Session) bool { return !s.Void }), nil
}

func (r *memoryRepository) ListOpenSessions(_ context.Context) ([]Session, error) {
	return r.snapshot(Session.Open), nil
}

func (r *memoryRepository) VoidSessionsByCadet(_ context.Context, cadetID string, at time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var voided []Session
	for id, s := range r.sessions {
		if s.CadetID != cadetID || s.Void {
			continue
		}
		voided = append(voided, cloneSession(s))
		s.Void = true
		s.UpdatedAt = at
		r.sessions[id] = s
	}
	sortSessions(voided)
	return voided, nil
}

func (r *memoryRepository) snapshot(keep func(Session) bool) []Session {
	r.mu.RLock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	r.mu.RUnlock()

	sortSessions(out)
	return out
}

func (r *memoryRepository) GetOverride(_ context.Context, cadetID string) (Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.overrides[cadetID]
	if !ok {
		return Override{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepository) PutOverride(_ context.Context, override Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides[override.CadetID] = override
	return nil
}

func (r *memoryRepository) DeleteOverride(_ context.Context, cadetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.overrides[cadetID]; !ok {
		return ErrNotFound
	}
	delete(r.overrides, cadetID)
	return nil
}

func (r *memoryRepository) ListOverrides(_ context.Context) ([]Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Override, 0, len(r.overrides))
	for _, o := range r.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CadetID < out[j].CadetID })
	return out, nil
}

func cloneSession(s Session) Session {
	if s.End != nil {
		end := *s.End
		s.End = &end
	}
	return s
}

// sortSessions orders by start, then id, so ties are deterministic.
func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Start.Equal(sessions[j].Start) {
			return sessions[i].Start.Before(sessions[j].Start)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

type memoryIdentityStore struct {
	mu      sync.RWMutex
	clients map[string]Identity
}

// NewMemoryIdentityStore returns an IdentityStore held in process memory.
func NewMemoryIdentityStore() IdentityStore {
	return &memoryIdentityStore{clients: make(map[string]Identity)}
}

func (m *memoryIdentityStore) Get(_ context.Context, clientID string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.clients[clientID]
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return identity, nil
}

func (m *memoryIdentityStore) Set(_ context.Context, clientID string, identity Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[clientID] = identity
	return nil
}

func (m *memoryIdentityStore) Clear(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients, clientID)
	return nil
}
