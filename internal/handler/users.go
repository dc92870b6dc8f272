package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/realtime-auth/internal/middleware"
	"github.com/iliyamo/realtime-auth/internal/service"
)

// UserHandler serves the /users directory. Every route sits behind JWTAuth;
// updates and deletes are limited to the caller's own account.
type UserHandler struct {
	Auth   *service.AuthService
	Logger *slog.Logger
}

func NewUserHandler(auth *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{Auth: auth, Logger: logger}
}

type updateUserReq struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
}

func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	users, err := h.Auth.ListUsers(ctx)
	if err != nil {
		return fail(c, h.Logger, err)
	}
	out := make([]userResp, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResp(u))
	}
	return c.JSON(http.StatusOK, out)
}

// Search matches ?name= against display names, case-insensitively.
func (h *UserHandler) Search(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	users, err := h.Auth.SearchUsers(ctx, c.QueryParam("name"))
	if err != nil {
		return fail(c, h.Logger, err)
	}
	out := make([]userResp, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResp(u))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *UserHandler) Update(c echo.Context) error {
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.UpdateUser(ctx, middleware.UserID(c), c.Param("id"), service.UpdateInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

func (h *UserHandler) Delete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.DeleteUser(ctx, middleware.UserID(c), c.Param("id")); err != nil {
		return fail(c, h.Logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
