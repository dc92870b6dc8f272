package middleware

// identity.go holds the context accessors shared by the middleware and
// the handlers behind JWTAuth.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/utils"
)

const (
	claimsKey = "claims"
	userIDKey = "user_id"
)

// ClaimsFrom returns the claims stored by JWTAuth.
func ClaimsFrom(c echo.Context) (*utils.Claims, bool) {
	cl, ok := c.Get(claimsKey).(*utils.Claims)
	return cl, ok && cl != nil
}

// UserID returns the authenticated user's id, or "" when the request did
// not pass through JWTAuth.
func UserID(c echo.Context) string {
	if s, ok := c.Get(userIDKey).(string); ok {
		return s
	}
	return ""
}
