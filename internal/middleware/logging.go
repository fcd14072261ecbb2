package middleware

import (
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/karaoke-backend/internal/metrics"
)

// RequestLogger logs one line per request and counts it. It must sit
// outside the error handler boundary, so it calls c.Error itself to make
// the final status visible.
func RequestLogger(log logrus.FieldLogger, m *metrics.Metrics) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }

            req := c.Request()
            status := c.Response().Status
            path := c.Path()
            if path == "" { path = "unmatched" }
            m.Request(req.Method, path, strconv.Itoa(status))

            entry := log.WithFields(logrus.Fields{
                "method":     req.Method,
                "path":       path,
                "status":     status,
                "latency_ms": time.Since(start).Milliseconds(),
                "remote_ip":  c.RealIP(),
                "user_id":    userID(c),
                "request_id": c.Response().Header().Get(echo.HeaderXRequestID),
            })
            switch {
            case status >= 500:
                entry.WithError(err).Error("request failed")
            case status >= 400:
                entry.Info("request rejected")
            default:
                entry.Debug("request served")
            }
            return nil
        }
    }
}
