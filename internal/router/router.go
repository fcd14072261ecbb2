package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/handler"
    "github.com/iliyamo/karaoke-backend/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication:
// the health check and, when given, the metrics endpoint.
func RegisterRoutes(e *echo.Echo, health map[string]handler.Pinger, metrics echo.HandlerFunc) {
    e.GET("/healthz", handler.Health(health))
    if metrics != nil {
        e.GET("/metrics", metrics)
    }
}

// RegisterAuth registers authentication routes. Credential exchanges live
// under /v1/auth and need no session; the rest require a bearer token.
// authn must be the Authenticate middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, authn echo.MiddlewareFunc) {
    public := e.Group("/v1/auth")
    public.POST("/register", a.Register)
    public.POST("/login", a.Login)
    public.POST("/refresh", a.Refresh)
    public.POST("/logout", a.Logout)

    protected := e.Group("/v1", authn, middleware.RequireAuth())
    protected.POST("/auth/logout-all", a.LogoutAll)
    protected.POST("/auth/switch-context", a.SwitchContext)
    protected.GET("/me", handler.Me)
}
