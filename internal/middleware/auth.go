package middleware

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/auth"
)

// Authenticate verifies the bearer token, if any, and attaches an
// AuthorizationContext to the request. It never rejects: an absent or bad
// token yields an unauthenticated context that carries the verification
// error, and handlers decide what they require.
func Authenticate(v *auth.Verifier, h *auth.Hydrator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()

            var authz *auth.AuthorizationContext
            raw, ok := auth.ExtractBearerToken(req.Header.Get(echo.HeaderAuthorization))
            if !ok {
                authz = auth.NewUnauthenticated(nil, h.AdminRoles)
            } else if claims, err := v.Verify(raw); err != nil {
                authz = auth.NewUnauthenticated(err, h.AdminRoles)
            } else {
                authz = h.Hydrate(req.Context(), claims)
            }

            c.Set(authContextKey, authz)
            c.SetRequest(req.WithContext(auth.WithAuthorization(req.Context(), authz)))
            return next(c)
        }
    }
}
