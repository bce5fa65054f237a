package handler

import (
    "context"
    "errors"
    "log"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/walkin-queue/internal/model"
    "github.com/iliyamo/walkin-queue/internal/repository"
    "github.com/iliyamo/walkin-queue/internal/service"
)

// AttendantAdmin is the attendants table as the admin endpoints see it.
// *repository.AttendantRepo implements it.
type AttendantAdmin interface {
    Create(ctx context.Context, name string, active bool) (model.Attendant, error)
    GetByID(ctx context.Context, id uint64) (model.Attendant, error)
    List(ctx context.Context) ([]model.Attendant, error)
    Update(ctx context.Context, id uint64, name *string, active *bool) (model.Attendant, error)
    Delete(ctx context.Context, id uint64) error
}

// Refresher reloads the queue projection after an attendant edit.
type Refresher interface {
    Refresh(ctx context.Context) (service.Snapshot, error)
}

// AttendantHandler manages desks (attendants).
type AttendantHandler struct {
    Attendants AttendantAdmin
    State      Refresher
}

func NewAttendantHandler(a AttendantAdmin, state Refresher) *AttendantHandler {
    return &AttendantHandler{Attendants: a, State: state}
}

type attendantReq struct {
    Name     string `json:"name" validate:"required,max=100"`
    IsActive *bool  `json:"is_active"`
}

type attendantPatchReq struct {
    Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
    IsActive *bool   `json:"is_active"`
}

// attendantErr turns repository errors into service errors.
func attendantErr(err error, id uint64) error {
    if errors.Is(err, repository.ErrAttendantNotFound) {
        return &service.NotFoundError{Kind: "attendant", ID: id}
    }
    return &service.BackendUnavailableError{Op: "attendant admin", Err: err}
}

// refresh reloads the snapshot; a failure only delays the dashboard.
func (h *AttendantHandler) refresh(c echo.Context) {
    if h.State == nil {
        return
    }
    if _, err := h.State.Refresh(c.Request().Context()); err != nil {
        log.Printf("attendant-admin: state reload failed: %v", err)
    }
}

// List handles GET /v1/attendants.
func (h *AttendantHandler) List(c echo.Context) error {
    list, err := h.Attendants.List(c.Request().Context())
    if err != nil {
        return respondError(c, attendantErr(err, 0))
    }
    return c.JSON(http.StatusOK, list)
}

// Create handles POST /v1/attendants.  New attendants are active unless
// is_active says otherwise.
func (h *AttendantHandler) Create(c echo.Context) error {
    var req attendantReq
    if err := bindValid(c, &req); err != nil {
        return respondError(c, err)
    }
    name := strings.TrimSpace(req.Name)
    if name == "" {
        return respondError(c, &service.ValidationError{Field: "name", Reason: "must not be blank"})
    }
    active := true
    if req.IsActive != nil {
        active = *req.IsActive
    }
    a, err := h.Attendants.Create(c.Request().Context(), name, active)
    if err != nil {
        return respondError(c, attendantErr(err, 0))
    }
    h.refresh(c)
    return c.JSON(http.StatusCreated, a)
}

// Replace handles PUT /v1/attendants/:id: name is required, is_active
// defaults to the current value.
func (h *AttendantHandler) Replace(c echo.Context) error {
    id, err := pathID(c, "id")
    if err != nil {
        return respondError(c, err)
    }
    var req attendantReq
    if err := bindValid(c, &req); err != nil {
        return respondError(c, err)
    }
    name := strings.TrimSpace(req.Name)
    if name == "" {
        return respondError(c, &service.ValidationError{Field: "name", Reason: "must not be blank"})
    }
    return h.update(c, id, &name, req.IsActive)
}

// Patch handles PATCH /v1/attendants/:id, typically to toggle is_active.
func (h *AttendantHandler) Patch(c echo.Context) error {
    id, err := pathID(c, "id")
    if err != nil {
        return respondError(c, err)
    }
    var req attendantPatchReq
    if err := bindValid(c, &req); err != nil {
        return respondError(c, err)
    }
    if req.Name != nil {
        trimmed := strings.TrimSpace(*req.Name)
        if trimmed == "" {
            return respondError(c, &service.ValidationError{Field: "name", Reason: "must not be blank"})
        }
        req.Name = &trimmed
    }
    return h.update(c, id, req.Name, req.IsActive)
}

func (h *AttendantHandler) update(c echo.Context, id uint64, name *string, active *bool) error {
    a, err := h.Attendants.Update(c.Request().Context(), id, name, active)
    if err != nil {
        return respondError(c, attendantErr(err, id))
    }
    h.refresh(c)
    return c.JSON(http.StatusOK, a)
}

// Delete handles DELETE /v1/attendants/:id.  Open tickets of the attendant
// go with it; its history stays.
func (h *AttendantHandler) Delete(c echo.Context) error {
    id, err := pathID(c, "id")
    if err != nil {
        return respondError(c, err)
    }
    if err := h.Attendants.Delete(c.Request().Context(), id); err != nil {
        return respondError(c, attendantErr(err, id))
    }
    h.refresh(c)
    return c.NoContent(http.StatusNoContent)
}
