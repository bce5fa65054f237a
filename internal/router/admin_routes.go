package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/handler"
	"github.com/iliyamo/walkin-queue/internal/middleware"
	"github.com/iliyamo/walkin-queue/internal/model"
)

// RegisterAdmin registers ADMIN-only endpoints on the protected group.  The
// role check is attached per route so these paths can share the /v1 prefix
// with the attendant-scoped ticket routes.
func RegisterAdmin(g *echo.Group, a *handler.AttendantHandler, u *handler.UserHandler) {
	admin := middleware.RequireRole(model.RoleAdmin)

	// ---- Attendants ----
	g.GET("/attendants", a.List, admin)
	g.POST("/attendants", a.Create, admin)
	g.PUT("/attendants/:id", a.Replace, admin)
	g.PATCH("/attendants/:id", a.Patch, admin) // usually toggles is_active
	g.DELETE("/attendants/:id", a.Delete, admin)

	// ---- Users ----
	g.GET("/users", u.List, admin)
	g.POST("/users", u.Create, admin)
	g.PATCH("/users/:id", u.Update, admin)
}
