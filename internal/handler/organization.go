package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/middleware"
)

// Access returns the caller's effective permissions in :orgId. Callers
// without a membership there get 403, global admins included, so the
// response never describes a tenant the caller does not belong to.
func Access(c echo.Context) error {
    a := middleware.Authorization(c)
    if _, err := a.RequireUser(); err != nil {
        return err
    }
    orgID := c.Param("orgId")
    set, ok := a.Organization(orgID)
    if !ok {
        return &apperr.AuthorizationError{OrganizationID: orgID}
    }
    return c.JSON(http.StatusOK, orgPart{
        OrganizationID: set.OrganizationID,
        Role:           set.RoleSlug,
        Permissions:    set.Permissions,
    })
}

// Invalidator drops cached permissions of an organization.
type Invalidator interface {
    InvalidateOrganization(ctx context.Context, orgID, source string) error
}

// AdminHandler serves cache maintenance endpoints. Source tags the
// invalidation in logs and defaults to "admin".
type AdminHandler struct {
    Permissions Invalidator
    Source      string
}

// InvalidatePermissions forces every member of :orgId to be re-resolved
// on their next request.
func (h *AdminHandler) InvalidatePermissions(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()
    source := h.Source
    if source == "" {
        source = "admin"
    }
    if err := h.Permissions.InvalidateOrganization(ctx, c.Param("orgId"), source); err != nil {
        return err
    }
    return c.NoContent(http.StatusNoContent)
}
