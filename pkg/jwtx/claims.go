package jwtx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Claims are the access-token claims the platform issues. The SDK never holds
// the signing keys, so claims are only ever read, never trusted for
// authorization decisions.
type Claims struct {
	jwt.RegisteredClaims

	// Space delimited scopes, e.g. "domain:acme"
	Scope string `json:"scope,omitempty"`

	// Username for password grants
	Username string `json:"user_name,omitempty"`

	// ClientID that requested the token
	ClientID string `json:"client_id,omitempty"`
}

// ParseUnverified decodes the claims of a JWT without checking its signature.
// Opaque (non-JWT) tokens return ErrMalformed.
func ParseUnverified(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return claims, nil
}

// Expiry returns the "exp" claim of a JWT access token. ok is false for
// opaque tokens and for JWTs without an expiry.
func Expiry(token string) (exp time.Time, ok bool) {
	claims, err := ParseUnverified(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Scopes splits the scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	// Check After Leeway
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	// Check Before Leeway
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
