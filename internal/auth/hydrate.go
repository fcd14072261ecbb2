package auth

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OrganizationResolver resolves the current permission set for one
// organization claim. A nil set with a nil error means no access.
type OrganizationResolver interface {
	GetOrganizationPermissions(ctx context.Context, userID string, claim OrganizationClaim) (*PermissionSet, error)
}

// Hydrator turns verified claims into an AuthorizationContext.
type Hydrator struct {
	Resolver   OrganizationResolver
	AdminRoles []string
	Log        logrus.FieldLogger
	// OnFailure is called for each organization dropped because its
	// resolution failed. Optional.
	OnFailure func(orgID string, err error)
}

// Hydrate resolves every organization on the token concurrently. A failure
// for one organization is logged and that organization is left out; the
// others are unaffected.
func (h *Hydrator) Hydrate(ctx context.Context, claims *AccessClaims) *AuthorizationContext {
	orgs := make(map[string]*PermissionSet, len(claims.Organizations))
	var mu sync.Mutex

	// errgroup without WithContext: one failure must not cancel siblings.
	var g errgroup.Group
	for _, oc := range claims.Organizations {
		oc := oc
		g.Go(func() error {
			set, err := h.Resolver.GetOrganizationPermissions(ctx, claims.Subject, oc)
			if err != nil {
				h.logger().WithError(err).WithFields(logrus.Fields{
					"user_id":         claims.Subject,
					"organization_id": oc.OrganizationID,
				}).Warn("permission hydration failed; organization skipped")
				if h.OnFailure != nil {
					h.OnFailure(oc.OrganizationID, err)
				}
				return nil
			}
			if set == nil {
				return nil
			}
			mu.Lock()
			orgs[oc.OrganizationID] = set
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return NewAuthenticated(claims, orgs, h.AdminRoles)
}

func (h *Hydrator) logger() logrus.FieldLogger {
	if h.Log != nil {
		return h.Log
	}
	return logrus.StandardLogger()
}
