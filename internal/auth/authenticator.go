package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gifmada/alertd/internal/directory"
	"github.com/gifmada/alertd/pkg/state"
)

var (
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrUnknownIdentity   = errors.New("auth: unknown identity")
	ErrUnknownRole       = errors.New("auth: unknown role")
)

// IdentityStore resolves the subject of a verified token to a user record.
type IdentityStore interface {
	IdentityBySubject(ctx context.Context, subject string) (directory.User, error)
}

// Authenticator turns an opaque credential (an HMAC-signed JWT whose
// subject is the user's e-mail) into a presence identity.
type Authenticator struct {
	secret        []byte
	store         IdentityStore
	parser        *jwt.Parser
	lookupTimeout time.Duration
	logger        *slog.Logger
}

func New(logger *slog.Logger, jwtSecret string, store IdentityStore, lookupTimeout time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(jwtSecret),
		store:  store,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
		lookupTimeout: lookupTimeout,
		logger:        logger.With(slog.String("component", "authenticator")),
	}
}

// Verify validates the credential and resolves its identity. Every
// failure wraps one of the package's sentinel errors.
func (a *Authenticator) Verify(ctx context.Context, credential string) (state.Identity, error) {
	if credential == "" {
		return state.Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return state.Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return state.Identity{}, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidCredential)
	}

	lookupCtx := ctx
	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, a.lookupTimeout)
		defer cancel()
	}
	user, err := a.store.IdentityBySubject(lookupCtx, claims.Subject)
	if errors.Is(err, directory.ErrNotFound) {
		return state.Identity{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, claims.Subject)
	}
	if err != nil {
		return state.Identity{}, fmt.Errorf("%w: lookup failed: %w", ErrUnknownIdentity, err)
	}

	role, ok := state.ParseRole(user.Role)
	if !ok {
		return state.Identity{}, fmt.Errorf("%w: '%s' for user %s", ErrUnknownRole, user.Role, user.ID)
	}

	id := state.Identity{
		UserID:      user.ID,
		Role:        role,
		DisplayName: user.DisplayName(),
	}
	if role == state.RoleAreaChief {
		id.AreaID = state.AreaID(user.AreaID)
	}
	a.logger.Debug("Credential verified", slog.String("userID", id.UserID), slog.String("role", role.String()))
	return id, nil
}

// Sign issues a credential for subject, valid for ttl. Used by tooling and tests.
func Sign(jwtSecret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(jwtSecret))
}
