package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/asptrack/asp-service/internal/shared/dto"
	sharederrors "github.com/asptrack/asp-service/internal/shared/errors"
)

// Version is reported by /healthz.
var Version = "v0.1.0"

// NewRouter returns a chi router with the default middleware stack, a health endpoint and JSON
// 404/405 envelopes.
func NewRouter(service string, register func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok", Service: service, Version: Version})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, sharederrors.ErrorResponse{
			Code:      "method_not_allowed",
			Message:   r.Method + " is not allowed here",
			RequestID: middleware.GetReqID(r.Context()),
		})
	})

	if register != nil {
		register(r)
	}

	return r
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes the canonical error envelope, deriving the status from code.
func WriteError(w http.ResponseWriter, r *http.Request, code, message string) {
	WriteJSON(w, sharederrors.ToStatusCode(code), sharederrors.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
