package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/middleware"
	"github.com/iliyamo/walkin-queue/internal/service"
)

// Sessions is the part of *service.SessionManager the auth endpoints use.
type Sessions interface {
	Create(ctx context.Context, username, password string) (service.Session, error)
	Refresh(ctx context.Context, rawRefresh string) (service.Session, error)
	Invalidate(ctx context.Context, rawRefresh string) error
}

// AuthHandler serves login, token refresh and logout.
type AuthHandler struct {
	Sessions Sessions
}

func NewAuthHandler(s Sessions) *AuthHandler { return &AuthHandler{Sessions: s} }

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Login: verify credentials and return a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Sessions.Create(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Refresh: rotate the refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Sessions.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Logout: revoke the presented refresh token.  Always 204 for a well-formed
// request, even if the token was unknown.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Sessions.Invalidate(ctx, strings.TrimSpace(req.RefreshToken)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the identity of the caller.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, id)
}
