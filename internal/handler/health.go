package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health reports "ok" when every dependency answers within two seconds.
// Load balancers take the instance out on 503.
func Health(deps map[string]Pinger) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        status := http.StatusOK
        checks := make(map[string]string, len(deps))
        for name, p := range deps {
            if err := p.PingContext(ctx); err != nil {
                checks[name] = "down"
                status = http.StatusServiceUnavailable
                continue
            }
            checks[name] = "up"
        }

        state := "ok"
        if status != http.StatusOK {
            state = "degraded"
        }
        return c.JSON(status, echo.Map{"status": state, "checks": checks})
    }
}
