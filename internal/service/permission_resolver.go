package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
	"github.com/iliyamo/karaoke-backend/internal/auth"
	"github.com/iliyamo/karaoke-backend/internal/metrics"
	"github.com/iliyamo/karaoke-backend/internal/model"
	"github.com/iliyamo/karaoke-backend/internal/telemetry"
)

// GrantStore loads a membership with its permission grants.
type GrantStore interface {
	GetActiveGrants(ctx context.Context, userID, orgID string) (*model.MembershipGrants, error)
}

// PermissionCacheStore is the versioned permission cache.
type PermissionCacheStore interface {
	Generation(ctx context.Context, orgID string) (int64, error)
	Lookup(ctx context.Context, userID, orgID, version string) (*auth.PermissionSet, int64, error)
	Store(ctx context.Context, userID string, set *auth.PermissionSet, generation int64, versions ...string) error
	Bump(ctx context.Context, orgID string) (int64, error)
}

// PermissionResolver computes effective permissions per (user, organization)
// with a cache in front of MySQL.
type PermissionResolver struct {
	grants       GrantStore
	cache        PermissionCacheStore
	readTimeout  time.Duration
	storeTimeout time.Duration
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// ResolverOption configures a PermissionResolver.
type ResolverOption func(*PermissionResolver)

func WithCacheReadTimeout(d time.Duration) ResolverOption {
	return func(r *PermissionResolver) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

func WithStoreTimeout(d time.Duration) ResolverOption {
	return func(r *PermissionResolver) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

func WithResolverLogger(l logrus.FieldLogger) ResolverOption {
	return func(r *PermissionResolver) {
		if l != nil {
			r.log = l
		}
	}
}

func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *PermissionResolver) { r.metrics = m }
}

// NewPermissionResolver builds a resolver. cache may be nil, in which case
// every call reads MySQL.
func NewPermissionResolver(grants GrantStore, cache PermissionCacheStore, opts ...ResolverOption) *PermissionResolver {
	r := &PermissionResolver{
		grants:       grants,
		cache:        cache,
		readTimeout:  150 * time.Millisecond,
		storeTimeout: 2 * time.Second,
		log:          logrus.StandardLogger(),
		tracer:       telemetry.Tracer(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

const unknownGeneration = -1

// GetOrganizationPermissions returns the current permission set of userID
// in claim.OrganizationID, or nil when there is no active membership.
//
// A non-empty claim.PermissionVersion is used as the cache key hint. An
// empty hint is an authoritative read: the cache is skipped on the way in
// and refreshed on the way out. Cache failures and timeouts fall through
// to MySQL; a MySQL failure is returned as a StoreUnavailableError.
func (r *PermissionResolver) GetOrganizationPermissions(ctx context.Context, userID string, claim auth.OrganizationClaim) (*auth.PermissionSet, error) {
	ctx, span := r.tracer.Start(ctx, "permissions.resolve",
		trace.WithAttributes(attribute.String("organization.id", claim.OrganizationID)))
	defer span.End()

	orgID := claim.OrganizationID
	hint := claim.PermissionVersion
	gen := int64(unknownGeneration)

	if r.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, r.readTimeout)
		if hint != "" {
			set, g, err := r.cache.Lookup(cctx, userID, orgID, hint)
			switch {
			case err != nil:
				r.metrics.CacheLookup("error")
				r.log.WithError(err).WithField("organization_id", orgID).Debug("permission cache read failed")
			case set != nil:
				cancel()
				r.metrics.CacheLookup("hit")
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return set, nil
			default:
				r.metrics.CacheLookup("miss")
				gen = g
			}
		} else {
			r.metrics.CacheLookup("bypass")
			if g, err := r.cache.Generation(cctx, orgID); err == nil {
				gen = g
			}
		}
		cancel()
	}

	dctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	grants, err := r.grants.GetActiveGrants(dctx, userID, orgID)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Unavailable("permissions.load", err)
	}
	if grants == nil {
		return nil, nil
	}

	set := auth.NewPermissionSet(orgID, grants.Role(), grants.UpdatedAt, grants.RolePermissions, grants.DirectPermissions)

	// Without a known generation the entry could outlive a bump it never saw.
	if r.cache != nil && gen != unknownGeneration {
		wctx, wcancel := context.WithTimeout(ctx, r.storeTimeout)
		if err := r.cache.Store(wctx, userID, set, gen, hint, set.Version); err != nil {
			r.log.WithError(err).WithField("organization_id", orgID).Warn("permission cache write failed")
		}
		wcancel()
	}
	return set, nil
}

// InvalidateOrganization bumps the organization generation so that every
// cached permission set of orgID is recomputed on next use.
func (r *PermissionResolver) InvalidateOrganization(ctx context.Context, orgID, source string) error {
	if r.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	gen, err := r.cache.Bump(ctx, orgID)
	if err != nil {
		return apperr.Unavailable("permissions.invalidate", err)
	}
	r.metrics.GenerationBumped(source)
	r.log.WithFields(logrus.Fields{"organization_id": orgID, "generation": gen, "source": source}).Info("permission generation bumped")
	return nil
}
