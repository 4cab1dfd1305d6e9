package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asptrack/asp-service/internal/attendance"
	"github.com/asptrack/asp-service/internal/export"
	sharedauth "github.com/asptrack/asp-service/internal/shared/auth"
	"github.com/asptrack/asp-service/internal/shared/logging"
	sharedserver "github.com/asptrack/asp-service/internal/shared/server"
)

const (
	serviceTimeout  = 10 * time.Second
	maxPayloadBytes = 1 << 16
	clientIDHeader  = "X-Client-ID"
)

var validate = validator.New()

// AdminAuthority exchanges the admin key for bearer tokens and verifies them.
type AdminAuthority interface {
	sharedauth.Verifier
	Login(presentedKey string) (string, time.Time, error)
}

// SnapshotPublisher stores leaderboard exports.
type SnapshotPublisher interface {
	Publish(ctx context.Context, rows []attendance.LeaderboardRow, cohort string, at time.Time) (export.Snapshot, error)
}

// Dependencies are the collaborators of the HTTP layer. Publisher may be nil, which disables
// snapshots.
type Dependencies struct {
	Service   *attendance.Service
	Admin     AdminAuthority
	Publisher SnapshotPublisher
	Logger    *slog.Logger
}

type handler struct {
	service   *attendance.Service
	admin     AdminAuthority
	publisher SnapshotPublisher
	logger    *slog.Logger
}

type signInRequest struct {
	Name   string `json:"name"`
	Cohort string `json:"cohort"`
	Group  string `json:"group"`
	Bypass bool   `json:"bypass"`
}

type meResponse struct {
	Identity attendance.Identity `json:"identity"`
	Status   attendance.Status   `json:"status"`
}

type leaderboardResponse struct {
	Cohort string                      `json:"cohort,omitempty"`
	Rows   []attendance.LeaderboardRow `json:"rows"`
}

// RegisterRoutes mounts the public and administrator routes under /v1.
func RegisterRoutes(r chi.Router, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{service: deps.Service, admin: deps.Admin, publisher: deps.Publisher, logger: logger}

	r.Route("/v1", func(r chi.Router) {
		r.Use(sharedauth.Optional(deps.Admin))

		r.Get("/window", h.getWindow)
		r.Post("/sign-in", h.signIn)
		r.Post("/sign-out", h.signOut)
		r.Get("/me", h.getMe)
		r.Delete("/me", h.forgetMe)
		r.Get("/leaderboard", h.getLeaderboard)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", h.adminLogin)

			r.Group(func(r chi.Router) {
				r.Use(sharedauth.Middleware(deps.Admin))

				r.Get("/cadets/{id}/sessions", h.listCadetSessions)
				r.Delete("/cadets/{id}", h.voidCadet)
				r.Patch("/sessions/{id}", h.editSession)
				r.Put("/overrides/{id}", h.putOverride)
				r.Delete("/overrides/{id}", h.deleteOverride)
				r.Get("/leaderboard.csv", h.exportLeaderboard)
				r.Post("/leaderboard/snapshots", h.publishSnapshot)
			})
		})
	})
}

func (h *handler) getWindow(w http.ResponseWriter, _ *http.Request) {
	sharedserver.WriteJSON(w, http.StatusOK, h.service.Window())
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}
	if req.Bypass {
		if _, ok := sharedauth.AdminFromContext(r.Context()); !ok {
			sharedserver.WriteError(w, r, "forbidden", "bypass requires an administrator token")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	res, err := h.service.SignIn(ctx, clientID(r), attendance.SignInInput{
		Name:   req.Name,
		Cohort: req.Cohort,
		Group:  req.Group,
		Bypass: req.Bypass,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	sharedserver.WriteJSON(w, status, res)
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	session, err := h.service.SignOutClient(ctx, clientID(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"minutes": h.service.Ledger().ElapsedCurrent(session, *session.End),
	})
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	identity, err := h.service.Whoami(ctx, clientID(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	status, err := h.service.Status(ctx, identity.CadetID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, meResponse{Identity: identity, Status: status})
}

func (h *handler) forgetMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	if err := h.service.Forget(ctx, clientID(r)); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	cohort := strings.TrimSpace(r.URL.Query().Get("cohort"))

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	rows, err := h.service.Leaderboard(ctx, cohort)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, leaderboardResponse{Cohort: cohort, Rows: rows})
}

func clientID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(clientIDHeader))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// validateBody runs validator tags and flattens the failures into one message.
func validateBody(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

func (h *handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		closedErr  *attendance.ClosedWindowError
		persistErr *attendance.PersistenceError
	)
	switch {
	case errors.As(err, &closedErr):
		sharedserver.WriteError(w, r, "window_closed",
			"the program window is closed; it next opens at "+closedErr.NextOpen.Format(time.RFC3339))
	case errors.Is(err, attendance.ErrValidation):
		sharedserver.WriteError(w, r, "bad_request", trimSentinel(err))
	case errors.Is(err, attendance.ErrCapExceeded):
		sharedserver.WriteError(w, r, "cap_exceeded", err.Error())
	case errors.Is(err, attendance.ErrNoOpenSession):
		sharedserver.WriteError(w, r, "no_open_session", "no open session to sign out of")
	case errors.Is(err, attendance.ErrNoIdentity):
		sharedserver.WriteError(w, r, "not_found", "no cadet is remembered for this client")
	case errors.Is(err, attendance.ErrNotFound):
		sharedserver.WriteError(w, r, "not_found", "record not found")
	case errors.Is(err, attendance.ErrConflict):
		sharedserver.WriteError(w, r, "conflict", "record already exists")
	case errors.Is(err, attendance.ErrOverridesDisabled):
		sharedserver.WriteError(w, r, "not_implemented", "overrides are disabled for this program")
	case errors.As(err, &persistErr), errors.Is(err, context.DeadlineExceeded):
		logging.WithRequestID(r.Context(), h.logger).Error("store unavailable", "error", err)
		sharedserver.WriteError(w, r, "unavailable", "the datastore is unavailable; try again")
	default:
		logging.WithRequestID(r.Context(), h.logger).Error("unexpected service error", "error", err)
		sharedserver.WriteError(w, r, "internal", "internal server error")
	}
}

func trimSentinel(err error) string {
	msg := strings.TrimSpace(err.Error())
	if i := strings.Index(msg, ":"); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	return msg
}
