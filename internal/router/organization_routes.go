package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/handler"
    "github.com/iliyamo/karaoke-backend/internal/middleware"
)

// PermissionManageMembers lets a tenant member change who holds which
// grants, and so flush the tenant's cached permissions.
const PermissionManageMembers = "customer.members"

// RegisterOrganization registers tenant-scoped routes under
// /v1/organizations/:orgId. Global admins pass the permission guard
// without a membership.
func RegisterOrganization(e *echo.Echo, h *handler.AdminHandler, authn echo.MiddlewareFunc) {
    g := e.Group("/v1/organizations/:orgId", authn, middleware.RequireAuth())
    g.GET("/access", handler.Access)
    g.POST("/permissions/invalidate", h.InvalidatePermissions,
        middleware.RequireOrganizationPermission(PermissionManageMembers))
}

// RegisterAdmin registers platform operator routes. Every route requires
// one of adminRoles.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, authn echo.MiddlewareFunc, adminRoles []string) {
    g := e.Group("/v1/admin", authn, middleware.RequireGlobalRole(adminRoles...))
    g.POST("/organizations/:orgId/permissions/invalidate", h.InvalidatePermissions)
}
