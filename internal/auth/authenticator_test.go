package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifmada/alertd/internal/auth"
	"github.com/gifmada/alertd/internal/directory"
	"github.com/gifmada/alertd/pkg/logging"
	"github.com/gifmada/alertd/pkg/state"
)

const secret = "test-secret"

type storeFunc func(ctx context.Context, subject string) (directory.User, error)

func (f storeFunc) IdentityBySubject(ctx context.Context, subject string) (directory.User, error) {
	return f(ctx, subject)
}

func newAuthenticator() *auth.Authenticator {
	store := directory.NewStatic([]directory.User{
		{ID: "u3", Email: "chief@example.org", Role: "CHEF_FOKONTANY", AreaID: 7, FirstName: "Rakoto", LastName: "Jean"},
		{ID: "u1", Email: "agent@example.org", Role: "SECURITE_URBAINE", AreaID: 4},
		{ID: "u6", Email: "odd@example.org", Role: "ASTRONAUT"},
	})
	return auth.New(logging.Discard(), secret, store, time.Second)
}

func sign(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	token, err := auth.Sign(secret, subject, ttl)
	require.NoError(t, err)
	return token
}

func TestVerifyAreaChief(t *testing.T) {
	id, err := newAuthenticator().Verify(context.Background(), sign(t, "chief@example.org", time.Minute))
	require.NoError(t, err)

	assert.Equal(t, state.Identity{
		UserID:      "u3",
		Role:        state.RoleAreaChief,
		AreaID:      7,
		DisplayName: "Rakoto Jean",
	}, id)
}

func TestVerifyDropsAreaForOtherRoles(t *testing.T) {
	id, err := newAuthenticator().Verify(context.Background(), sign(t, "agent@example.org", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, state.RoleUrbanSecurity, id.Role)
	assert.Zero(t, id.AreaID)
}

func TestVerifyFailures(t *testing.T) {
	a := newAuthenticator()

	wrongKey, err := auth.Sign("another-secret", "chief@example.org", time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "chief@example.org"}).
		SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
		want       error
	}{
		{"empty", "", auth.ErrInvalidCredential},
		{"malformed", "not-a-jwt", auth.ErrInvalidCredential},
		{"wrong key", wrongKey, auth.ErrInvalidCredential},
		{"expired", sign(t, "chief@example.org", -time.Minute), auth.ErrInvalidCredential},
		{"no expiry", noExpiry, auth.ErrInvalidCredential},
		{"no subject", sign(t, "", time.Minute), auth.ErrInvalidCredential},
		{"unknown user", sign(t, "ghost@example.org", time.Minute), auth.ErrUnknownIdentity},
		{"unknown role", sign(t, "odd@example.org", time.Minute), auth.ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(context.Background(), tt.credential)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "chief@example.org",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newAuthenticator().Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestVerifyStoreFailure(t *testing.T) {
	store := storeFunc(func(context.Context, string) (directory.User, error) {
		return directory.User{}, errors.New("connection refused")
	})
	a := auth.New(logging.Discard(), secret, store, time.Second)

	_, err := a.Verify(context.Background(), sign(t, "chief@example.org", time.Minute))
	assert.ErrorIs(t, err, auth.ErrUnknownIdentity)
	assert.ErrorContains(t, err, "connection refused")
}
