package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/utils"
)

// AccessVerifier verifies access tokens. *utils.TokenCodec implements it.
type AccessVerifier interface {
	VerifyAccessToken(token string) (*utils.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. It reports false when the header is absent, uses another scheme
// or carries an empty token.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return raw, raw != ""
}

// JWTAuth rejects requests without a valid bearer access token with 401
// before they reach a handler. Verified claims are stored in the context
// and can be read with ClaimsFrom and UserID.
func JWTAuth(v AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := BearerToken(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := v.VerifyAccessToken(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.PublicMessage(err)})
			}
			c.Set(claimsKey, claims)
			c.Set(userIDKey, claims.UserID)
			return next(c)
		}
	}
}
