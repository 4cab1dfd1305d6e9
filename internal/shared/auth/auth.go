package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config captures the inputs required to issue and verify administrator tokens.
type Config struct {
	// AdminKey is the shared secret an operator presents to obtain a token.
	AdminKey string
	// Secret signs issued tokens (HS256).
	Secret string
	TTL    time.Duration
	Issuer string
}

// AuthenticatedAdmin is the subject extracted from a verified bearer token.
type AuthenticatedAdmin struct {
	Subject   string
	ExpiresAt time.Time
	Token     string
}

// Verifier verifies a bearer token and returns the associated admin context.
type Verifier interface {
	Verify(ctx context.Context, token string) (AuthenticatedAdmin, error)
}

var (
	errMissingAuthHeader = errors.New("authorization header missing")
	errInvalidAuthHeader = errors.New("authorization header is malformed")

	// ErrInvalidAdminKey is returned by Login when the presented key does not match.
	ErrInvalidAdminKey = errors.New("invalid admin key")
)

type ctxKey string

const adminCtxKey ctxKey = "asp:admin"

// Middleware rejects requests that do not carry a valid admin bearer token.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			admin, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
		})
	}
}

// Optional attaches the admin to the context when a valid token is present and lets every
// request through otherwise.
func Optional(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, err := tokenFromRequest(r); err == nil {
				if admin, err := verifier.Verify(r.Context(), token); err == nil {
					r = r.WithContext(WithAdmin(r.Context(), admin))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingAuthHeader
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errInvalidAuthHeader
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errInvalidAuthHeader
	}

	return token, nil
}

// WithAdmin stores admin on ctx.
func WithAdmin(ctx context.Context, admin AuthenticatedAdmin) context.Context {
	return context.WithValue(ctx, adminCtxKey, admin)
}

// AdminFromContext extracts the authenticated admin from the request context.
func AdminFromContext(ctx context.Context) (AuthenticatedAdmin, bool) {
	value, ok := ctx.Value(adminCtxKey).(AuthenticatedAdmin)
	return value, ok
}

// KeyMatches compares a presented admin key against the configured one in constant time.
func KeyMatches(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// NewAuthority constructs the token issuer/verifier for cfg.
func NewAuthority(cfg Config) (*Authority, error) {
	if strings.TrimSpace(cfg.AdminKey) == "" {
		return nil, fmt.Errorf("admin key is required")
	}
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("admin token secret must be at least 16 bytes")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "asp-service"
	}
	return &Authority{cfg: cfg, now: time.Now}, nil
}
