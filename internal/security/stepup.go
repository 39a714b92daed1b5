// Package security - step-up authentication tokens.
//
// Sensitive capabilities (maintenance approvals, user administration) demand
// a second, short-lived credential on top of the session cookie. The token is
// an HMAC-signed JWT carried in its own SameSite=Strict cookie, so even a
// hijacked session cannot reach the privileged pages without re-proving the
// password.
package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stepUpClaims is the signed claim set of a step-up token.
type stepUpClaims struct {
	UserID int    `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// StepUpAuthenticator issues and validates step-up tokens.
type StepUpAuthenticator struct {
	signingKey []byte
	ttl        time.Duration

	now func() time.Time
}

// NewStepUpAuthenticator creates an authenticator signing with key and
// issuing tokens valid for ttl.
func NewStepUpAuthenticator(key []byte, ttl time.Duration) *StepUpAuthenticator {
	return &StepUpAuthenticator{signingKey: key, ttl: ttl, now: time.Now}
}

// TTL returns the configured token lifetime, used for the cookie expiry.
func (s *StepUpAuthenticator) TTL() time.Duration {
	return s.ttl
}

// Issue builds and signs a step-up token for the given user.
func (s *StepUpAuthenticator) Issue(userID int, role string) (string, error) {
	now := s.now()
	claims := stepUpClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign step-up token: %w", err)
	}
	return signed, nil
}

// Validate reports whether presented is a correctly signed, unexpired token
// for exactly the session's current user and role. Any mismatch is a hard
// failure: a stale step-up token means the privileged context is untrusted.
func (s *StepUpAuthenticator) Validate(presented string, userID int, role string) bool {
	if presented == "" {
		return false
	}

	claims := &stepUpClaims{}
	token, err := jwt.ParseWithClaims(presented, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return false
	}

	return claims.UserID == userID && claims.Role == role
}
