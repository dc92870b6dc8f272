// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/realtime-auth/internal/handler"
	"github.com/iliyamo/realtime-auth/internal/middleware"
	"github.com/iliyamo/realtime-auth/internal/realtime"
)

// Deps is everything the HTTP surface needs. RateLimit and Metrics may be
// nil; DB is nil when running on the in-memory store.
type Deps struct {
	Auth      *handler.AuthHandler
	Users     *handler.UserHandler
	Gateway   *realtime.Gateway
	Verifier  middleware.AccessVerifier
	RateLimit echo.MiddlewareFunc
	Metrics   http.Handler
	DB        handler.Pinger
	Logger    *slog.Logger
}

// New builds the echo instance with the shared middleware chain and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))

	RegisterRoutes(e, d.DB, d.Metrics)
	RegisterAuth(e, d.Auth, d.Verifier, d.RateLimit)
	RegisterUsers(e, d.Users, d.Verifier)
	RegisterRealtime(e, d.Gateway)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, metrics http.Handler) {
	e.GET("/healthz", handler.Health(db))
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers the /auth endpoints. Register, login and refresh
// are public and rate limited; logout and me need a bearer access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, v middleware.AccessVerifier, limit echo.MiddlewareFunc) {
	g := e.Group("/auth")
	if limit != nil {
		g.Use(limit)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	g.POST("/logout", a.Logout, middleware.JWTAuth(v))
	g.GET("/me", a.Me, middleware.JWTAuth(v))
}

// RegisterRealtime exposes the websocket gateway. The gateway authenticates
// during the handshake itself, so no JWT middleware runs here.
func RegisterRealtime(e *echo.Echo, gw *realtime.Gateway) {
	e.GET("/ws", gw.Handle)
}
