package middleware

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/auth"
)

// RequireAuth rejects requests without a verified token. The original
// verification error is returned so the client sees why.
func RequireAuth() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if _, err := Authorization(c).RequireUser(); err != nil {
                return err
            }
            return next(c)
        }
    }
}

// RequireGlobalRole enforces that the caller holds one of roles.
func RequireGlobalRole(roles ...string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            a := Authorization(c)
            if _, err := a.RequireUser(); err != nil {
                return err
            }
            if !a.HasAnyGlobalRole(roles...) {
                return &apperr.AuthorizationError{RequiredRoles: roles}
            }
            return next(c)
        }
    }
}

// RequireOrganizationPermission enforces permission in the organization
// named by the :orgId path parameter, or in the active context when the
// route has none.
func RequireOrganizationPermission(permission string, roles ...string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            opts := auth.PermissionOptions{
                OrganizationID:          c.Param("orgId"),
                UseActiveContext:        true,
                RequireOrganizationRole: roles,
            }
            if _, err := Authorization(c).RequireOrganizationPermission(permission, opts); err != nil {
                return err
            }
            return next(c)
        }
    }
}
