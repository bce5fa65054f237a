package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/service"
)

// TicketOps is the lifecycle surface of *service.Manager.
type TicketOps interface {
	Create(ctx context.Context, t model.TicketType, attendantID uint64) (service.Result, error)
	CreateBulk(ctx context.Context, t model.TicketType, attendantID uint64, quantity int) (service.Result, error)
	CallNext(ctx context.Context, attendantID uint64) (service.Result, error)
	Complete(ctx context.Context, attendantID uint64) (service.Result, error)
	Remove(ctx context.Context, attendantID, ticketID uint64) (service.Result, error)
	InService(ctx context.Context, attendantID uint64) (*model.Ticket, error)
	OverdueAfter() time.Duration
}

// StateReader is the read side of *service.StateStore.
type StateReader interface {
	Current(ctx context.Context) (service.Snapshot, error)
	Hints(ctx context.Context) (model.QueueState, error)
}

// QueueHandler serves the desk operations and the queue snapshot.
type QueueHandler struct {
	Tickets TicketOps
	State   StateReader
	Now     func() time.Time
}

func NewQueueHandler(ops TicketOps, state StateReader) *QueueHandler {
	return &QueueHandler{Tickets: ops, State: state, Now: time.Now}
}

type createTicketReq struct {
	Type string `json:"type" validate:"required,oneof=preferential normal"`
}

type bulkTicketReq struct {
	Type     string `json:"type" validate:"required,oneof=preferential normal"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=100"`
}

// respondResult writes a lifecycle result.  Created tickets get 201, a
// skipped call 200 with "skipped": true.
func respondResult(c echo.Context, res service.Result, created bool) error {
	if created && !res.Skipped {
		return c.JSON(http.StatusCreated, res)
	}
	return c.JSON(http.StatusOK, res)
}

// Snapshot handles GET /v1/queue.
func (h *QueueHandler) Snapshot(c echo.Context) error {
	snap, err := h.State.Current(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Hints handles GET /v1/queue/hints.
func (h *QueueHandler) Hints(c echo.Context) error {
	st, err := h.State.Hints(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// CreateTicket handles POST /v1/attendants/:id/tickets.
func (h *QueueHandler) CreateTicket(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req createTicketReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.Tickets.Create(c.Request().Context(), model.TicketType(req.Type), id)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, res, true)
}

// CreateBulk handles POST /v1/attendants/:id/tickets/bulk.
func (h *QueueHandler) CreateBulk(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req bulkTicketReq
	if err := bindValid(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.Tickets.CreateBulk(c.Request().Context(), model.TicketType(req.Type), id, req.Quantity)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, res, true)
}

// CallNext handles POST /v1/attendants/:id/call.
func (h *QueueHandler) CallNext(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Tickets.CallNext(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, res, false)
}

// Complete handles POST /v1/attendants/:id/complete.
func (h *QueueHandler) Complete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Tickets.Complete(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, res, false)
}

// RemoveTicket handles DELETE /v1/attendants/:id/tickets/:ticket_id.
func (h *QueueHandler) RemoveTicket(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ticketID, err := pathID(c, "ticket_id")
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.Tickets.Remove(c.Request().Context(), id, ticketID)
	if err != nil {
		return respondError(c, err)
	}
	return respondResult(c, res, false)
}

// Overdue handles GET /v1/attendants/:id/overdue.
func (h *QueueHandler) Overdue(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	cur, err := h.Tickets.InService(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	now := h.Now()
	body := echo.Map{
		"attendant_id":  id,
		"overdue":       service.Overdue(cur, now, h.Tickets.OverdueAfter()),
		"limit_seconds": int64(h.Tickets.OverdueAfter() / time.Second),
		"ticket":        cur,
	}
	if cur != nil && cur.CalledAt != nil {
		body["elapsed_seconds"] = int64(now.Sub(*cur.CalledAt) / time.Second)
	}
	return c.JSON(http.StatusOK, body)
}
