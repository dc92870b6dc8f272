package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/handler"
	"github.com/iliyamo/realtime-auth/internal/middleware"
)

// RegisterUsers registers the user directory under /users. Every route
// requires a valid access token; the handlers restrict writes to the
// caller's own account.
func RegisterUsers(e *echo.Echo, h *handler.UserHandler, v middleware.AccessVerifier) {
	g := e.Group("/users", middleware.JWTAuth(v))
	g.GET("", h.List)
	g.GET("/search", h.Search)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}
