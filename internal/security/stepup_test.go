package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepUp_IssueAndValidate(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	token, err := auth.Issue(42, RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, auth.Validate(token, 42, RoleAdmin))
}

func TestStepUp_RejectsOtherUserOrRole(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	token, err := auth.Issue(42, RoleAdmin)
	require.NoError(t, err)

	assert.False(t, auth.Validate(token, 43, RoleAdmin), "different user")
	assert.False(t, auth.Validate(token, 42, RoleStaff), "different role")
}

func TestStepUp_RejectsExpired(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	base := time.Now()
	auth.now = func() time.Time { return base }
	token, err := auth.Issue(42, RoleAdmin)
	require.NoError(t, err)

	auth.now = func() time.Time { return base.Add(9 * time.Minute) }
	assert.True(t, auth.Validate(token, 42, RoleAdmin), "still inside the lifetime")

	auth.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.False(t, auth.Validate(token, 42, RoleAdmin), "expired")
}

func TestStepUp_RejectsWrongKey(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)
	other := NewStepUpAuthenticator([]byte("different-key"), 10*time.Minute)

	token, err := other.Issue(42, RoleAdmin)
	require.NoError(t, err)

	assert.False(t, auth.Validate(token, 42, RoleAdmin))
}

func TestStepUp_RejectsGarbageAndEmpty(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	assert.False(t, auth.Validate("", 42, RoleAdmin))
	assert.False(t, auth.Validate("not.a.jwt", 42, RoleAdmin))
}

func TestStepUp_RejectsUnsignedAlgorithm(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	// A token claiming alg "none" must never validate, whatever its claims say.
	claims := stepUpClaims{
		UserID: 42,
		Role:   RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	assert.False(t, auth.Validate(unsigned, 42, RoleAdmin))
}

func TestStepUp_RejectsTokenWithoutExpiry(t *testing.T) {
	auth := NewStepUpAuthenticator([]byte("signing-key"), 10*time.Minute)

	claims := stepUpClaims{UserID: 42, Role: RoleAdmin}
	eternal, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	assert.False(t, auth.Validate(eternal, 42, RoleAdmin))
}
