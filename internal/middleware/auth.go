package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/response"
)

const (
	CtxIdentityKey = "authIdentity"
	CtxUserIDKey   = "userID"
)

// TokenVerifier resolves bearer credentials to an identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (iauth.Identity, error)
}

// Auth enforces bearer JWT authentication using the supplied verifier.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized.WithMessage("Missing bearer token"))
			c.Abort()
			return
		}

		identity, err := verifier.VerifyToken(c.Request.Context(), strings.TrimSpace(authz[7:]))
		if err != nil {
			// Normalise all verification failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized.WithMessage("Invalid or expired token").WithInternal(err))
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID)

		c.Next()
	}
}

// IdentityFromContext returns the identity stored by Auth.
func IdentityFromContext(c *gin.Context) (iauth.Identity, bool) {
	value, ok := c.Get(CtxIdentityKey)
	if !ok {
		return iauth.Identity{}, false
	}
	identity, ok := value.(iauth.Identity)
	return identity, ok && identity.UserID != ""
}
