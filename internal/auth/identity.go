package auth

import (
	"context"
	"strings"

	"github.com/charlesng35/whiteboard/pkg/errors"
)

// Identity is the authenticated principal behind a connection or request.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// IdentityResolver maps verified token claims onto a known user record.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, claimed Identity) (Identity, error)
}

// TokenVerifier validates bearer credentials and resolves them to an Identity.
type TokenVerifier struct {
	jwt   *JWTService
	users IdentityResolver
}

// NewTokenVerifier wires the JWT service with an optional user resolver. Without a
// resolver the claims are trusted as-is.
func NewTokenVerifier(jwt *JWTService, users IdentityResolver) *TokenVerifier {
	return &TokenVerifier{jwt: jwt, users: users}
}

// VerifyToken returns the identity for a credential or an authentication AppError.
func (v *TokenVerifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, errors.NewAuthentication("JWT must be provided", nil)
	}
	if v == nil || v.jwt == nil {
		return Identity{}, errors.NewAuthentication("Authentication unavailable", nil)
	}

	claims, err := v.jwt.Parse(token)
	if err != nil {
		return Identity{}, errors.NewAuthentication("Invalid or expired token", err)
	}

	identity := claims.Identity()

	if v.users != nil {
		resolved, err := v.users.ResolveIdentity(ctx, identity)
		if err != nil {
			return Identity{}, errors.NewAuthentication("User not found", err)
		}
		identity = resolved
	}

	if identity.UserID == "" {
		return Identity{}, errors.NewAuthentication("User not found", nil)
	}

	return identity, nil
}
