package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/asptrack/asp-service/internal/export"
	sharedauth "github.com/asptrack/asp-service/internal/shared/auth"
	"github.com/asptrack/asp-service/internal/shared/logging"
	sharedserver "github.com/asptrack/asp-service/internal/shared/server"
)

type loginRequest struct {
	Key string `json:"key" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type editSessionRequest struct {
	Start *time.Time `json:"start" validate:"required"`
	End   *time.Time `json:"end"`
}

type overrideRequest struct {
	Minutes *int `json:"minutes" validate:"required,gte=0"`
}

type snapshotRequest struct {
	Cohort string `json:"cohort"`
}

func (h *handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}
	if err := validateBody(req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}

	token, expiresAt, err := h.admin.Login(req.Key)
	if err != nil {
		if errors.Is(err, sharedauth.ErrInvalidAdminKey) {
			logging.WithRequestID(r.Context(), h.logger).Warn("admin login rejected")
			sharedserver.WriteError(w, r, "unauthorized", "invalid admin key")
			return
		}
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *handler) listCadetSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	sessions, err := h.service.ListCadetSessions(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (h *handler) editSession(w http.ResponseWriter, r *http.Request) {
	var req editSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}
	if err := validateBody(req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	session, err := h.service.EditSession(ctx, chi.URLParam(r, "id"), *req.Start, req.End)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) voidCadet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	n, err := h.service.VoidCadet(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, map[string]int{"voided_sessions": n})
}

func (h *handler) putOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}
	if err := validateBody(req); err != nil {
		sharedserver.WriteError(w, r, "bad_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	override, err := h.service.SetOverride(ctx, chi.URLParam(r, "id"), *req.Minutes)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	sharedserver.WriteJSON(w, http.StatusOK, override)
}

func (h *handler) deleteOverride(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	if err := h.service.ClearOverride(ctx, chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) exportLeaderboard(w http.ResponseWriter, r *http.Request) {
	cohort := strings.TrimSpace(r.URL.Query().Get("cohort"))

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	rows, err := h.service.Leaderboard(ctx, cohort)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="leaderboard.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteLeaderboardCSV(w, rows); err != nil {
		logging.WithRequestID(r.Context(), h.logger).Error("write leaderboard csv", "error", err)
	}
}

func (h *handler) publishSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		sharedserver.WriteError(w, r, "not_implemented", "leaderboard snapshots are not configured")
		return
	}

	var req snapshotRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			sharedserver.WriteError(w, r, "bad_request", err.Error())
			return
		}
	}
	cohort := strings.TrimSpace(req.Cohort)

	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	rows, err := h.service.Leaderboard(ctx, cohort)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	snap, err := h.publisher.Publish(ctx, rows, cohort, time.Now())
	if err != nil {
		logging.WithRequestID(r.Context(), h.logger).Error("publish snapshot", "error", err)
		sharedserver.WriteError(w, r, "unavailable", "could not store the snapshot; try again")
		return
	}
	logging.WithRequestID(r.Context(), h.logger).Info("leaderboard snapshot published", "path", snap.Path, "rows", snap.Rows)
	sharedserver.WriteJSON(w, http.StatusCreated, snap)
}
