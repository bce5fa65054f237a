package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/walkin-queue/internal/handler"    // handlers implementing each endpoint
	"github.com/iliyamo/walkin-queue/internal/middleware" // JWT authentication, role checks, rate limit
	"github.com/iliyamo/walkin-queue/internal/model"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	// Load balancers and the desk terminals poll this endpoint.
	e.GET("/healthz", h.Health)
}

// RegisterAuth registers the session endpoints under /v1/auth.  None of them
// require an access token: login issues one, refresh rotates the pair and
// logout revokes the presented refresh token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
}

// Protected returns the /v1 group every operator endpoint lives in.  The
// access token is checked first so the rate limiter can key on the user,
// then the role must be one of the operator roles.
func Protected(e *echo.Echo, auth middleware.Authenticator, limiter echo.MiddlewareFunc) *echo.Group {
	g := e.Group("/v1", middleware.JWTAuth(auth))
	if limiter != nil {
		g.Use(limiter)
	}
	g.Use(middleware.RequireRole(model.RoleAdmin, model.RoleAttendant))
	return g
}

// RegisterMe maps GET /v1/me to the identity of the caller.
func RegisterMe(g *echo.Group, a *handler.AuthHandler) {
	g.GET("/me", a.Me)
}
