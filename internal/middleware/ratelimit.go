package middleware

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/config"
    "github.com/iliyamo/karaoke-backend/internal/metrics"
    "github.com/iliyamo/karaoke-backend/internal/ratelimit"
)

// RateLimiter admits or rejects one request for an identity.
type RateLimiter interface {
    Allow(ctx context.Context, p ratelimit.Policy, identity string) (ratelimit.Result, error)
}

// NewSlidingWindow limits every request under one global policy. It runs
// before authentication, so keys are built from the client address and
// the route only. A limiter that cannot reach Redis rejects the request.
func NewSlidingWindow(cfg config.RateLimitConfig, limiter RateLimiter, m *metrics.Metrics) echo.MiddlewareFunc {
    if !cfg.Enabled || limiter == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    policy := ratelimit.Policy{Action: "http", Limit: cfg.Limit, Window: cfg.Window}

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            res, err := limiter.Allow(c.Request().Context(), policy, buildRateKey(cfg, c))
            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))

            var rl *apperr.RateLimitError
            switch {
            case errors.As(err, &rl):
                m.RateLimit(policy.Action, "rejected")
                h.Set("X-RateLimit-Remaining", "0")
                h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
                return err
            case err != nil:
                m.RateLimit(policy.Action, "unavailable")
                return err
            }

            m.RateLimit(policy.Action, "admitted")
            h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
            h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
            return next(c)
        }
    }
}

// ClientIPExtractor decides where c.RealIP() reads the client address from.
// Without trusted proxies only the peer address counts, so clients cannot
// pick their own rate-limit key through forwarding headers. With trusted
// proxies X-Forwarded-For is honored for hops inside those ranges only.
func ClientIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
    if len(trustedProxies) == 0 {
        return echo.ExtractIPDirect(), nil
    }
    opts := []echo.TrustOption{
        echo.TrustLoopback(false),
        echo.TrustLinkLocal(false),
        echo.TrustPrivateNet(false),
    }
    for _, cidr := range trustedProxies {
        _, ipNet, err := net.ParseCIDR(cidr)
        if err != nil {
            return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
        }
        opts = append(opts, echo.TrustIPRange(ipNet))
    }
    return echo.ExtractIPFromXFFHeader(opts...), nil
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" { ip = "unknown" }
    route := c.Request().Method + " " + c.Path()

    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        return "route:" + route
    case "ip_route":
        return "ip:" + ip + ":route:" + route
    default:
        return "ip:" + ip
    }
}
