package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
)

type pinger interface {
    PingContext(ctx context.Context) error
}

// HealthHandler reports whether the service and its backends respond.
type HealthHandler struct {
    DB    pinger        // *sql.DB
    Redis *redis.Client // optional
}

// Health answers 200 when the database responds and 503 otherwise.  Redis
// is reported but never fails the check, since every Redis consumer
// degrades without it.
func (h *HealthHandler) Health(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    body := echo.Map{"status": "ok", "database": "up", "redis": "disabled"}
    status := http.StatusOK
    if h.DB != nil {
        if err := h.DB.PingContext(ctx); err != nil {
            body["status"], body["database"] = "degraded", "down"
            status = http.StatusServiceUnavailable
        }
    }
    if h.Redis != nil {
        body["redis"] = "up"
        if err := h.Redis.Ping(ctx).Err(); err != nil {
            body["redis"] = "down"
        }
    }
    return c.JSON(status, body)
}
