package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	cadetsCollection    = "cadets"
	sessionsCollection  = "sessions"
	overridesCollection = "overrides"
	clientsCollection   = "clients"
)

type firestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository instantiates a Firestore-backed repository.
func NewFirestoreRepository(client *firestore.Client) Repository {
	return &firestoreRepository{client: client}
}

func (r *firestoreRepository) cadets() *firestore.CollectionRef {
	return r.client.Collection(cadetsCollection)
}

func (r *firestoreRepository) sessions() *firestore.CollectionRef {
	return r.client.Collection(sessionsCollection)
}

func (r *firestoreRepository) overrides() *firestore.CollectionRef {
	return r.client.Collection(overridesCollection)
}

func (r *firestoreRepository) FindCadet(ctx context.Context, key CadetKey) (Cadet, error) {
	iter := r.cadets().
		Where("cohort", "==", key.Cohort).
		Where("name_key", "==", strings.ToLower(key.Name)).
		Where("group_key", "==", strings.ToLower(key.Group)).
		Documents(ctx)
	defer iter.Stop()

	var (
		found Cadet
		ok    bool
	)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return Cadet{}, err
		}
		c, err := snapshotToCadet(doc)
		if err != nil {
			return Cadet{}, err
		}
		if !ok || c.CreatedAt.Before(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return Cadet{}, ErrNotFound
	}
	return found, nil
}

func (r *firestoreRepository) GetCadet(ctx context.Context, id string) (Cadet, error) {
	doc, err := r.cadets().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Cadet{}, ErrNotFound
	}
	if err != nil {
		return Cadet{}, err
	}
	return snapshotToCadet(doc)
}

func (r *firestoreRepository) CreateCadet(ctx context.Context, cadet Cadet) error {
	_, err := r.cadets().Doc(cadet.ID).Create(ctx, map[string]any{
		"name":       cadet.Name,
		"name_key":   strings.ToLower(cadet.Name),
		"cohort":     cadet.Cohort,
		"group":      cadet.Group,
		"group_key":  strings.ToLower(cadet.Group),
		"created_at": cadet.CreatedAt,
		"updated_at": cadet.UpdatedAt,
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrConflict
	}
	return err
}

func (r *firestoreRepository) UpdateCadetName(ctx context.Context, id, name string, updatedAt time.Time) error {
	_, err := r.cadets().Doc(id).Update(ctx, []firestore.Update{
		{Path: "name", Value: name},
		{Path: "name_key", Value: strings.ToLower(name)},
		{Path: "updated_at", Value: updatedAt},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (r *firestoreRepository) ListCadets(ctx context.Context) ([]Cadet, error) {
	iter := r.cadets().OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	out := make([]Cadet, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		c, err := snapshotToCadet(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *firestoreRepository) CreateSession(ctx context.Context, session Session) error {
	_, err := r.sessions().Doc(session.ID).Create(ctx, sessionData(session))
	if status.Code(err) == codes.AlreadyExists {
		return ErrConflict
	}
	return err
}

func (r *firestoreRepository) GetSession(ctx context.Context, id string) (Session, error) {
	doc, err := r.sessions().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return snapshotToSession(doc)
}

func (r *firestoreRepository) UpdateSession(ctx context.Context, session Session) error {
	var end any
	if session.End != nil {
		end = *session.End
	}
	_, err := r.sessions().Doc(session.ID).Update(ctx, []firestore.Update{
		{Path: "start", Value: session.Start},
		{Path: "end", Value: end},
		{Path: "void", Value: session.Void},
		{Path: "open", Value: session.Open()},
		{Path: "end_reason", Value: string(session.EndReason)},
		{Path: "updated_at", Value: session.UpdatedAt},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (r *firestoreRepository) ListSessionsByCadet(ctx context.Context, cadetID string) ([]Session, error) {
	return r.querySessions(ctx, r.sessions().Where("cadet_id", "==", cadetID))
}

func (r *firestoreRepository) ListSessions(ctx context.Context) ([]Session, error) {
	return r.querySessions(ctx, r.sessions().Where("void", "==", false))
}

func (r *firestoreRepository) ListOpenSessions(ctx context.Context) ([]Session, error) {
	return r.querySessions(ctx, r.sessions().Where("open", "==", true))
}

func (r *firestoreRepository) VoidSessionsByCadet(ctx context.Context, cadetID string, at time.Time) ([]Session, error) {
	var voided []Session
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		voided = voided[:0]
		query := r.sessions().Where("cadet_id", "==", cadetID).Where("void", "==", false)
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			s, err := snapshotToSession(doc)
			if err != nil {
				return err
			}
			voided = append(voided, s)
		}
		for _, doc := range docs {
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "void", Value: true},
				{Path: "open", Value: false},
				{Path: "updated_at", Value: at},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSessions(voided)
	return voided, nil
}

func (r *firestoreRepository) querySessions(ctx context.Context, query firestore.Query) ([]Session, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	out := make([]Session, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := snapshotToSession(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	// Sorted client side so equality filters need no composite index.
	sortSessions(out)
	return out, nil
}

func (r *firestoreRepository) GetOverride(ctx context.Context, cadetID string) (Override, error) {
	doc, err := r.overrides().Doc(cadetID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Override{}, ErrNotFound
	}
	if err != nil {
		return Override{}, err
	}
	return snapshotToOverride(doc)
}

func (r *firestoreRepository) PutOverride(ctx context.Context, override Override) error {
	_, err := r.overrides().Doc(override.CadetID).Set(ctx, map[string]any{
		"minutes":    override.Minutes,
		"updated_at": override.UpdatedAt,
	})
	return err
}

func (r *firestoreRepository) DeleteOverride(ctx context.Context, cadetID string) error {
	_, err := r.overrides().Doc(cadetID).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (r *firestoreRepository) ListOverrides(ctx context.Context) ([]Override, error) {
	iter := r.overrides().Documents(ctx)
	defer iter.Stop()

	out := make([]Override, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		o, err := snapshotToOverride(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func sessionData(s Session) map[string]any {
	var end any
	if s.End != nil {
		end = *s.End
	}
	return map[string]any{
		"cadet_id":   s.CadetID,
		"start":      s.Start,
		"end":        end,
		"void":       s.Void,
		"open":       s.Open(),
		"end_reason": string(s.EndReason),
		"created_at": s.CreatedAt,
		"updated_at": s.UpdatedAt,
	}
}

func snapshotToCadet(doc *firestore.DocumentSnapshot) (Cadet, error) {
	var payload struct {
		Name      string    `firestore:"name"`
		Cohort    string    `firestore:"cohort"`
		Group     string    `firestore:"group"`
		CreatedAt time.Time `firestore:"created_at"`
		UpdatedAt time.Time `firestore:"updated_at"`
	}
	if err := doc.DataTo(&payload); err != nil {
		return Cadet{}, fmt.Errorf("decode cadet %s: %w", doc.Ref.ID, err)
	}
	return Cadet{
		ID:        doc.Ref.ID,
		Name:      payload.Name,
		Cohort:    payload.Cohort,
		Group:     payload.Group,
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
	}, nil
}

func snapshotToSession(doc *firestore.DocumentSnapshot) (Session, error) {
	var payload struct {
		CadetID   string     `firestore:"cadet_id"`
		Start     time.Time  `firestore:"start"`
		End       *time.Time `firestore:"end"`
		Void      bool       `firestore:"void"`
		EndReason string     `firestore:"end_reason"`
		CreatedAt time.Time  `firestore:"created_at"`
		UpdatedAt time.Time  `firestore:"updated_at"`
	}
	if err := doc.DataTo(&payload); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", doc.Ref.ID, err)
	}
	return Session{
		ID:        doc.Ref.ID,
		CadetID:   payload.CadetID,
		Start:     payload.Start,
		End:       payload.End,
		Void:      payload.Void,
		EndReason: EndReason(payload.EndReason),
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
	}, nil
}

func snapshotToOverride(doc *firestore.DocumentSnapshot) (Override, error) {
	var payload struct {
		Minutes   int       `firestore:"minutes"`
		UpdatedAt time.Time `firestore:"updated_at"`
	}
	if err := doc.DataTo(&payload); err != nil {
		return Override{}, fmt.Errorf("decode override %s: %w", doc.Ref.ID, err)
	}
	return Override{CadetID: doc.Ref.ID, Minutes: payload.Minutes, UpdatedAt: payload.UpdatedAt}, nil
}

type firestoreIdentityStore struct {
	client *firestore.Client
}

// NewFirestoreIdentityStore keeps client identities in the clients collection.
func NewFirestoreIdentityStore(client *firestore.Client) IdentityStore {
	return &firestoreIdentityStore{client: client}
}

func (s *firestoreIdentityStore) Get(ctx context.Context, clientID string) (Identity, error) {
	doc, err := s.client.Collection(clientsCollection).Doc(clientID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Identity{}, ErrNoIdentity
	}
	if err != nil {
		return Identity{}, err
	}
	var identity Identity
	if err := doc.DataTo(&identity); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return identity, nil
}

func (s *firestoreIdentityStore) Set(ctx context.Context, clientID string, identity Identity) error {
	_, err := s.client.Collection(clientsCollection).Doc(clientID).Set(ctx, map[string]any{
		"cadet_id":   identity.CadetID,
		"name":       identity.Name,
		"cohort":     identity.Cohort,
		"group":      identity.Group,
		"updated_at": identity.UpdatedAt,
	})
	return err
}

func (s *firestoreIdentityStore) Clear(ctx context.Context, clientID string) error {
	_, err := s.client.Collection(clientsCollection).Doc(clientID).Delete(ctx)
	return err
}
