package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/handler"
)

// RegisterQueue registers the desk operations and history reports on the
// protected group.  historyCache wraps only GET /v1/history; pass nil to
// serve it uncached.
func RegisterQueue(g *echo.Group, q *handler.QueueHandler, h *handler.HistoryHandler, historyCache echo.MiddlewareFunc) {
	// ---- Queue snapshot ----
	g.GET("/queue", q.Snapshot)
	g.GET("/queue/hints", q.Hints)

	// ---- Tickets of one attendant ----
	g.POST("/attendants/:id/tickets", q.CreateTicket)
	g.POST("/attendants/:id/tickets/bulk", q.CreateBulk)
	g.DELETE("/attendants/:id/tickets/:ticket_id", q.RemoveTicket)
	g.POST("/attendants/:id/call", q.CallNext)
	g.POST("/attendants/:id/complete", q.Complete)
	g.GET("/attendants/:id/overdue", q.Overdue)

	// ---- History ----
	if historyCache != nil {
		g.GET("/history", h.List, historyCache)
	} else {
		g.GET("/history", h.List)
	}
	g.GET("/history/pending", h.Pending)
	g.POST("/history/sync", h.Sync)
}
