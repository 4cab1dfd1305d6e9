package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	a, err := NewAuthority(Config{AdminKey: "letmein", Secret: "0123456789abcdef0123", TTL: time.Hour})
	require.NoError(t, err)
	return a
}

func TestLoginRejectsWrongKey(t *testing.T) {
	a := newTestAuthority(t)
	_, _, err := a.Login("nope")
	assert.ErrorIs(t, err, ErrInvalidAdminKey)
}

func TestLoginThenVerify(t *testing.T) {
	a := newTestAuthority(t)
	token, exp, err := a.Login("letmein")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	admin, err := a.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, adminSubject, admin.Subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := newTestAuthority(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := a.Login("letmein")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a := newTestAuthority(t)
	other, err := NewAuthority(Config{AdminKey: "letmein", Secret: "another-secret-value!!", TTL: time.Hour})
	require.NoError(t, err)
	token, _, err := other.Login("letmein")
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthority(t)
	token, _, err := a.Login("letmein")
	require.NoError(t, err)

	var sawAdmin bool
	h := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAdmin = AdminFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawAdmin)
}

func TestOptionalPassesAnonymousRequests(t *testing.T) {
	a := newTestAuthority(t)
	var sawAdmin bool
	h := Optional(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAdmin = AdminFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sawAdmin)
}
