package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meadowbrook/clinisec/pkg/cryptox"
)

// DefaultSessionTTL bounds how long an issued session claim stays valid.
const DefaultSessionTTL = 8 * time.Hour

// SessionSigner mints the authenticated session claim handed to the
// presentation layer after a completed login. The signing key is random per
// process: sessions deliberately do not survive a restart of the desktop
// host, which also restarts every in-flight registration.
type SessionSigner struct {
	Issuer string
	TTL    time.Duration

	key []byte
}

// NewSessionSigner creates a signer with a fresh process-local HMAC key.
func NewSessionSigner(issuer string, ttl time.Duration) *SessionSigner {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionSigner{
		Issuer: issuer,
		TTL:    ttl,
		key:    []byte(cryptox.MustGenerateToken(cryptox.TokenSize256)),
	}
}

// Issue signs a session claim for the given account id.
func (s *SessionSigner) Issue(accountID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses a session claim and returns the account id it was issued for.
func (s *SessionSigner) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("invalid session token: missing subject")
	}
	return claims.Subject, nil
}
