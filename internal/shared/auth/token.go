package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminSubject = "admin"

// Authority issues HS256 admin tokens in exchange for the admin key and verifies them.
type Authority struct {
	cfg Config
	now func() time.Time
}

var _ Verifier = (*Authority)(nil)

// Login exchanges the admin key for a signed token.
func (a *Authority) Login(presentedKey string) (string, time.Time, error) {
	if !KeyMatches(a.cfg.AdminKey, presentedKey) {
		return "", time.Time{}, ErrInvalidAdminKey
	}

	now := a.now()
	expiresAt := now.Add(a.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *Authority) Verify(_ context.Context, token string) (AuthenticatedAdmin, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return AuthenticatedAdmin{}, fmt.Errorf("token verification failed: %w", err)
	}
	if !parsed.Valid || claims.Subject != adminSubject {
		return AuthenticatedAdmin{}, errors.New("token is not an admin token")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return AuthenticatedAdmin{Subject: claims.Subject, ExpiresAt: expiresAt, Token: token}, nil
}
