package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/logging"
	"github.com/iliyamo/realtime-auth/internal/middleware"
	"github.com/iliyamo/realtime-auth/internal/model"
	"github.com/iliyamo/realtime-auth/internal/service"
)

// requestTimeout bounds the store work done for a single request.
const requestTimeout = 5 * time.Second

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	Logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Logger: logger}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type userResp struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserResp(u model.User) userResp {
	return userResp{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Register creates a user. Tokens are obtained with a separate login.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.Register(ctx, service.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	pair, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		// an unknown email must look the same as a wrong password
		if errors.Is(err, apperr.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.ErrInvalidCredentials.Error()})
		}
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh rotates a refresh token into a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refreshToken required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	pair, err := h.Auth.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout revokes the given refresh token. Revoking an unknown token succeeds.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refreshToken required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, strings.TrimSpace(req.RefreshToken)); err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the identity carried by the caller's access token.
func (h *AuthHandler) Me(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := h.Auth.Me(claims)
	return c.JSON(http.StatusOK, echo.Map{"userId": id.UserID, "email": id.Email})
}

// fail writes err as {"error": ...} with the status apperr assigns it.
// Server-side failures are logged and never leak their cause.
func fail(c echo.Context, logger *slog.Logger, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(logger, "request failed", err, "path", c.Path())
	}
	return c.JSON(status, echo.Map{"error": apperr.PublicMessage(err)})
}
