package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "authcore/pkg/domain-errors"
)

// Claims carries the subset of access token claims the lifecycle
// coordinator needs. Signature verification belongs to the issuing
// backend; on device we only read expiry and identity hints.
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// DecodeClaims parses an access token without verifying its signature and
// returns its claims. Tokens are untrusted input: any malformed token is a
// decode error, and callers must treat decode failure as expired/invalid.
func DecodeClaims(raw string) (*Claims, error) {
	if raw == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "empty token")
	}
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "could not decode token claims")
	}
	return claims, nil
}

// ExpiresAt returns the expiry instant, or the zero time when the token
// carries no exp claim.
func (c *Claims) ExpiresAt() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// Expired reports whether the token expiry is absent or already passed.
// A token with no exp claim is treated as expired for safety.
func (c *Claims) Expired(now time.Time) bool {
	exp := c.ExpiresAt()
	return exp.IsZero() || !exp.After(now)
}

// ExpiresWithin reports whether the token expiry falls inside the given
// window from now, including tokens already expired.
func (c *Claims) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.Expired(now) {
		return true
	}
	return c.ExpiresAt().Sub(now) <= window
}
