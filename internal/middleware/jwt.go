package middleware

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/walkin-queue/internal/service"
)

// Authenticator verifies an access token.  *service.SessionManager
// implements it.
type Authenticator interface {
    Authenticate(rawAccess string) (service.Identity, error)
}

// JWTAuth validates the Bearer access token of the request and stores the
// operator's identity in both the echo context ("identity", "user_id",
// "role") and the request context, where the service layer reads it.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            header := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(header, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            id, err := auth.Authenticate(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set(identityKey, id)
            c.Set("user_id", id.UserID)
            c.Set("role", id.Role)
            req := c.Request()
            c.SetRequest(req.WithContext(service.WithIdentity(req.Context(), id)))
            return next(c)
        }
    }
}
