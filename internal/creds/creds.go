// Package creds supplies the bearer credential that authenticates the
// realtime transport and the history API, and signals when it rotates.
package creds

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Source yields the current bearer token. Subscribers are notified when the
// credential changes so the connection manager can reconnect with it.
type Source interface {
	Token() (string, error)
	// Subscribe registers fn to run after the credential changes.
	// The returned function removes the subscription.
	Subscribe(fn func()) (unsubscribe func())
}

// Static is a Source with a fixed token that never rotates.
type Static struct {
	token string
}

// NewStatic wraps a fixed token.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token returns the wrapped token, or an error if it is empty.
func (s *Static) Token() (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("no credential configured")
	}
	return s.token, nil
}

// Subscribe is a no-op for static tokens.
func (s *Static) Subscribe(func()) func() {
	return func() {}
}

// ExpiresAt extracts the exp claim from a JWT without verifying its
// signature. Verification belongs to the server; the client only needs the
// expiry to warn before connecting with a dead token. Returns false when the
// token is not a JWT or carries no exp claim.
func ExpiresAt(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token carries an exp claim in the past.
// Non-JWT tokens are never considered expired.
func Expired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return exp.Before(now)
}
