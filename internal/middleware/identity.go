package middleware

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/walkin-queue/internal/service"
)

const identityKey = "identity"

// CurrentIdentity returns the identity stored by JWTAuth.
func CurrentIdentity(c echo.Context) (service.Identity, bool) {
    id, ok := c.Get(identityKey).(service.Identity)
    return id, ok
}

// userKey names the caller in rate-limit keys; "anon" before JWTAuth ran.
func userKey(c echo.Context) string {
    if id, ok := CurrentIdentity(c); ok && id.UserID != 0 {
        return strconv.FormatUint(id.UserID, 10)
    }
    return "anon"
}
