package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/middleware"
	"github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireIdentity returns the authenticated caller or writes a 401 and reports false.
func requireIdentity(c *gin.Context) (iauth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return iauth.Identity{}, false
	}
	return identity, true
}
