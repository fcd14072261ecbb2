package middleware

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/auth"
)

const authContextKey = "authz"

// Authorization returns the context attached by Authenticate. Routes that
// skipped the middleware get an unauthenticated context.
func Authorization(c echo.Context) *auth.AuthorizationContext {
    if a, ok := c.Get(authContextKey).(*auth.AuthorizationContext); ok && a != nil {
        return a
    }
    return auth.FromContext(c.Request().Context())
}

// userID is the authenticated subject or "guest".
func userID(c echo.Context) string {
    if u, err := Authorization(c).RequireUser(); err == nil {
        return u.ID
    }
    return "guest"
}
