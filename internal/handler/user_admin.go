package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/repository"
	"github.com/iliyamo/walkin-queue/internal/service"
	"github.com/iliyamo/walkin-queue/internal/utils"
)

// UserAdmin is the users table as the admin endpoints see it.
// *repository.UserRepo implements it.
type UserAdmin interface {
	Create(ctx context.Context, username, displayName, password, role string, cost int) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, id uint64, role *string, active *bool, password *string, cost int) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	InvalidateAll(ctx context.Context, userID uint64) error
}

// UserHandler manages operator accounts.
type UserHandler struct {
	Users      UserAdmin
	Sessions   SessionRevoker
	BcryptCost int
}

func NewUserHandler(users UserAdmin, sessions SessionRevoker, cost int) *UserHandler {
	return &UserHandler{Users: users, Sessions: sessions, BcryptCost: cost}
}

// userView is the public shape of a user; the password hash never leaves
// the server.
type userView struct {
	ID          uint64    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewUser(u model.User) userView {
	return userView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role,
		IsActive: u.IsActive, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

type createUserReq struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	DisplayName string `json:"display_name" validate:"max=100"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Role        string `json:"role" validate:"required,oneof=ADMIN ATTENDANT"`
}

type patchUserReq struct {
	Role     *string `json:"role" validate:"omitempty,oneof=ADMIN ATTENDANT"`
	IsActive *bool   `json:"is_active"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

func userErr(err error, id uint64) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return &service.NotFoundError{Kind: "user", ID: id}
	case errors.Is(err, utils.ErrPasswordTooShort):
		return &service.ValidationError{Field: "password", Reason: "too short"}
	}
	return &service.BackendUnavailableError{Op: "user admin", Err: err}
}

// List handles GET /v1/users.
func (h *UserHandler) List(c echo.Context) error {
	users, err := h.Users.List(c.Request().Context())
	if err != nil {
		return respondError(c, userErr(err, 0))
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	return c.JSON(http.StatusOK, out)
}

// Create handles POST /v1/users.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	id, err := h.Users.Create(ctx, req.Username, req.DisplayName, req.Password, req.Role, h.BcryptCost)
	if errors.Is(err, repository.ErrUsernameExists) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
	}
	if err != nil {
		return respondError(c, userErr(err, 0))
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondError(c, userErr(err, id))
	}
	return c.JSON(http.StatusCreated, viewUser(u))
}

// Update handles PATCH /v1/users/:id.  Deactivating a user or changing
// its password ends its sessions.  Admins cannot demote or deactivate
// themselves.
func (h *UserHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req patchUserReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	if self, ok := service.IdentityFrom(c.Request().Context()); ok && self.UserID == id {
		if (req.IsActive != nil && !*req.IsActive) || (req.Role != nil && *req.Role != model.RoleAdmin) {
			return respondError(c, &service.ValidationError{Field: "id", Reason: "cannot demote or deactivate yourself"})
		}
	}
	ctx := c.Request().Context()
	if err := h.Users.Update(ctx, id, req.Role, req.IsActive, req.Password, h.BcryptCost); err != nil {
		return respondError(c, userErr(err, id))
	}
	if (req.IsActive != nil && !*req.IsActive) || req.Password != nil {
		if err := h.Sessions.InvalidateAll(ctx, id); err != nil {
			return respondError(c, err)
		}
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondError(c, userErr(err, id))
	}
	return c.JSON(http.StatusOK, viewUser(u))
}
