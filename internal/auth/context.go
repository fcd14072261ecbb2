package auth

import (
	"context"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
)

// DefaultGlobalAdminRoles is used when no admin role set is configured.
var DefaultGlobalAdminRoles = []string{"platform-admin"}

// AuthenticatedUser is the verified identity behind a request.
type AuthenticatedUser struct {
	ID          string
	Email       string
	GlobalRoles []string
	Context     *ActiveContext
	TokenID     string
}

// AuthorizationContext answers capability questions for one request. It
// is either unauthenticated, holding the verification error, or
// authenticated with the organizations that hydrated successfully.
type AuthorizationContext struct {
	user        *AuthenticatedUser
	claims      *AccessClaims
	orgs        map[string]*PermissionSet
	authErr     error
	adminRoles  map[string]struct{}
	globalRoles map[string]struct{}
}

// NewUnauthenticated builds a context for a request without a valid token.
// err may be nil when no credentials were presented at all.
func NewUnauthenticated(err error, adminRoles []string) *AuthorizationContext {
	return &AuthorizationContext{authErr: err, adminRoles: toSet(adminRoles)}
}

// NewAuthenticated builds a context from verified claims and the
// organizations that resolved. Organizations missing from orgs are denied.
func NewAuthenticated(claims *AccessClaims, orgs map[string]*PermissionSet, adminRoles []string) *AuthorizationContext {
	if orgs == nil {
		orgs = map[string]*PermissionSet{}
	}
	return &AuthorizationContext{
		user: &AuthenticatedUser{
			ID:          claims.Subject,
			Email:       claims.Email,
			GlobalRoles: claims.Roles,
			Context:     claims.Context,
			TokenID:     claims.ID,
		},
		claims:      claims,
		orgs:        orgs,
		adminRoles:  toSet(adminRoles),
		globalRoles: toSet(claims.Roles),
	}
}

// IsAuthenticated reports the state of the context.
func (a *AuthorizationContext) IsAuthenticated() bool { return a != nil && a.user != nil }

// Err returns the retained verification error, if any.
func (a *AuthorizationContext) Err() error {
	if a == nil {
		return nil
	}
	return a.authErr
}

// Claims returns the verified claims or nil.
func (a *AuthorizationContext) Claims() *AccessClaims {
	if a == nil {
		return nil
	}
	return a.claims
}

// ActiveContext returns the claimed tenant context or nil.
func (a *AuthorizationContext) ActiveContext() *ActiveContext {
	if !a.IsAuthenticated() {
		return nil
	}
	return a.user.Context
}

// Organization returns the hydrated permission set for orgID.
func (a *AuthorizationContext) Organization(orgID string) (*PermissionSet, bool) {
	if !a.IsAuthenticated() {
		return nil, false
	}
	p, ok := a.orgs[orgID]
	return p, ok
}

// RequireUser returns the caller or an authentication error, re-surfacing
// the original verification failure when there was one.
func (a *AuthorizationContext) RequireUser() (*AuthenticatedUser, error) {
	if a.IsAuthenticated() {
		return a.user, nil
	}
	if err := a.Err(); err != nil {
		return nil, err
	}
	return nil, apperr.Unauthenticated("missing credentials", nil)
}

// HasGlobalRole is false for unauthenticated callers.
func (a *AuthorizationContext) HasGlobalRole(role string) bool {
	if !a.IsAuthenticated() {
		return false
	}
	_, ok := a.globalRoles[role]
	return ok
}

// HasAnyGlobalRole is false for unauthenticated callers or an empty list.
func (a *AuthorizationContext) HasAnyGlobalRole(roles ...string) bool {
	for _, r := range roles {
		if a.HasGlobalRole(r) {
			return true
		}
	}
	return false
}

func (a *AuthorizationContext) isGlobalAdmin() bool {
	if !a.IsAuthenticated() {
		return false
	}
	for r := range a.adminRoles {
		if _, ok := a.globalRoles[r]; ok {
			return true
		}
	}
	return false
}

// PermissionOptions selects the organization and extra constraints for
// RequireOrganizationPermission.
type PermissionOptions struct {
	// OrganizationID wins over UseActiveContext when both are set.
	OrganizationID   string
	UseActiveContext bool
	// AllowGlobalAdmin defaults to true when nil.
	AllowGlobalAdmin *bool
	// RequireOrganizationRole, when non-empty, restricts the membership
	// role to one of the listed slugs.
	RequireOrganizationRole []string
}

// RequireOrganizationPermission fails with *apperr.AuthorizationError
// unless the caller holds permission in the target organization. Global
// admins pass unless AllowGlobalAdmin is explicitly false.
func (a *AuthorizationContext) RequireOrganizationPermission(permission string, opts PermissionOptions) (*PermissionSet, error) {
	if _, err := a.RequireUser(); err != nil {
		return nil, err
	}

	orgID := opts.OrganizationID
	if orgID == "" && opts.UseActiveContext {
		if ctx := a.user.Context; ctx != nil && ctx.Type == ContextCustomer {
			orgID = ctx.ID
		}
	}
	deny := &apperr.AuthorizationError{
		OrganizationID: orgID,
		Permission:     permission,
		RequiredRoles:  opts.RequireOrganizationRole,
	}

	allowAdmin := opts.AllowGlobalAdmin == nil || *opts.AllowGlobalAdmin
	if allowAdmin && a.isGlobalAdmin() {
		return a.orgs[orgID], nil
	}
	if orgID == "" {
		return nil, deny
	}

	set, ok := a.orgs[orgID]
	if !ok || set == nil {
		return nil, deny
	}
	if len(opts.RequireOrganizationRole) > 0 && !contains(opts.RequireOrganizationRole, set.RoleSlug) {
		return nil, deny
	}
	if !set.Has(permission) {
		return nil, deny
	}
	return set, nil
}

// Bool is a helper for the optional flags in PermissionOptions.
func Bool(v bool) *bool { return &v }

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithAuthorization stores a in ctx for layers below the HTTP handler.
func WithAuthorization(ctx context.Context, a *AuthorizationContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the authorization context stored in ctx. When none
// was attached it returns an unauthenticated context, never nil.
func FromContext(ctx context.Context) *AuthorizationContext {
	if a, ok := ctx.Value(ctxKey{}).(*AuthorizationContext); ok && a != nil {
		return a
	}
	return NewUnauthenticated(nil, nil)
}
