package model

import "time"

// MembershipStatus is the lifecycle state of an organization membership.
type MembershipStatus string

const (
    MembershipInvited   MembershipStatus = "invited"
    MembershipActive    MembershipStatus = "active"
    MembershipSuspended MembershipStatus = "suspended"
    MembershipRevoked   MembershipStatus = "revoked"
)

// Membership relates a user to an organization (a customer) as stored in
// `organization_memberships`. A membership carries at most one role.
// UpdatedAt feeds the permission version token, so any write to the row
// must bump it.
type Membership struct {
    ID             string           // organization_memberships.id
    OrganizationID string           // organization_memberships.customer_id
    UserID         string           // organization_memberships.user_id
    RoleID         *string          // organization_memberships.role_id (nullable)
    RoleSlug       *string          // roles.slug via role_id
    Status         MembershipStatus // organization_memberships.status
    UpdatedAt      time.Time        // organization_memberships.updated_at
}

// Role returns the role slug or "" when the membership has none.
func (m *Membership) Role() string {
    if m == nil || m.RoleSlug == nil {
        return ""
    }
    return *m.RoleSlug
}

// MembershipGrants is a membership together with the permission slugs
// granted through its role and directly to it.
type MembershipGrants struct {
    Membership
    RolePermissions   []string
    DirectPermissions []string
}

// Customer is a tenant organization as stored in `customers`.
type Customer struct {
    ID          string    // customers.id
    Name        string    // customers.name
    OwnerUserID string    // customers.owner_user_id
    CreatedAt   time.Time // customers.created_at
}

// Singer is a singer profile owned by a user, stored in `singers`.
type Singer struct {
    ID          string    // singers.id
    UserID      string    // singers.user_id
    DisplayName string    // singers.display_name
    CreatedAt   time.Time // singers.created_at
}
