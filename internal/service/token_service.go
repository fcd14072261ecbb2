package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
	"github.com/iliyamo/karaoke-backend/internal/auth"
	"github.com/iliyamo/karaoke-backend/internal/metrics"
	"github.com/iliyamo/karaoke-backend/internal/model"
	"github.com/iliyamo/karaoke-backend/internal/repository"
	"github.com/iliyamo/karaoke-backend/internal/telemetry"
)

const defaultAccessTTL = 15 * time.Minute

// UserStore loads accounts by id.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// MembershipStore loads the tenant relationships used for claims.
type MembershipStore interface {
	ListActive(ctx context.Context, userID string) ([]model.Membership, error)
	OwnedCustomer(ctx context.Context, userID string) (*model.Customer, error)
	OwnedSinger(ctx context.Context, userID string) (*model.Singer, error)
}

// RefreshStore is the refresh token store.
type RefreshStore interface {
	Issue(ctx context.Context, userID string) (*repository.IssuedRefreshToken, error)
	Verify(ctx context.Context, userID, token string) (*repository.VerifiedRefreshToken, error)
	Revoke(ctx context.Context, userID, tokenID string) error
	Rotate(ctx context.Context, userID, token string) (*repository.IssuedRefreshToken, error)
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// Session is a freshly minted access token plus refresh token.
type Session struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Claims                *auth.AccessClaims
}

// AccessToken is a minted access token without a refresh token.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	Claims    *auth.AccessClaims
}

// TokenService mints access tokens and session bundles.
type TokenService struct {
	keys        *auth.KeyPair
	users       UserStore
	memberships MembershipStore
	permissions auth.OrganizationResolver
	refresh     RefreshStore

	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// TokenServiceOption configures TokenService behavior.
type TokenServiceOption func(*TokenService)

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) TokenServiceOption {
	return func(s *TokenService) { s.issuer = issuer }
}

// WithAudience sets the aud claim.
func WithAudience(aud string) TokenServiceOption {
	return func(s *TokenService) { s.audience = aud }
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithTokenLogger(l logrus.FieldLogger) TokenServiceOption {
	return func(s *TokenService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithTokenMetrics(m *metrics.Metrics) TokenServiceOption {
	return func(s *TokenService) { s.metrics = m }
}

// NewTokenService wires the token service. keys must not be nil.
func NewTokenService(keys *auth.KeyPair, users UserStore, memberships MembershipStore,
	permissions auth.OrganizationResolver, refresh RefreshStore, opts ...TokenServiceOption) (*TokenService, error) {
	if keys == nil {
		return nil, errors.New("token service: key pair required")
	}
	s := &TokenService{
		keys:        keys,
		users:       users,
		memberships: memberships,
		permissions: permissions,
		refresh:     refresh,
		accessTTL:   defaultAccessTTL,
		now:         time.Now,
		log:         logrus.StandardLogger(),
		tracer:      telemetry.Tracer(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// CreateSession builds claims, signs them and issues a refresh token. The
// signing path and the refresh issue run concurrently; if either fails the
// call fails and a refresh token that was already issued is revoked.
func (s *TokenService) CreateSession(ctx context.Context, userID string, override *auth.ActiveContext) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "tokens.create_session")
	defer span.End()

	var (
		access  *AccessToken
		refresh *repository.IssuedRefreshToken
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		access, err = s.CreateAccessToken(gctx, userID, override)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = s.refresh.Issue(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		if refresh != nil {
			s.discardRefresh(userID, refresh.TokenID)
		}
		return nil, err
	}
	s.metrics.TokenIssued("refresh")

	return &Session{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refresh.Token,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
		Claims:                access.Claims,
	}, nil
}

// CreateAccessToken mints an access token from freshly resolved claims
// without touching the refresh store.
func (s *TokenService) CreateAccessToken(ctx context.Context, userID string, override *auth.ActiveContext) (*AccessToken, error) {
	claims, err := s.buildClaims(ctx, userID, override)
	if err != nil {
		return nil, err
	}
	signed, err := s.keys.Sign(claims)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued("access")
	return &AccessToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time, Claims: claims}, nil
}

// RefreshSession mints an access token from freshly computed claims and
// then rotates token. Claims are built before rotation so a rejected
// override or a store outage leaves the presented token valid. An invalid
// or already rotated refresh token is an authentication error.
func (s *TokenService) RefreshSession(ctx context.Context, userID, token string, override *auth.ActiveContext) (*Session, error) {
	current, err := s.VerifyRefreshToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.Unauthenticated("invalid refresh token", nil)
	}
	access, err := s.CreateAccessToken(ctx, userID, override)
	if err != nil {
		return nil, err
	}
	next, err := s.RotateRefreshToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// Lost a concurrent rotation; the signed access token is dropped.
		return nil, apperr.Unauthenticated("invalid refresh token", nil)
	}
	s.metrics.TokenIssued("refresh")
	return &Session{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          next.Token,
		RefreshTokenExpiresAt: next.ExpiresAt,
		Claims:                access.Claims,
	}, nil
}

// RotateRefreshToken delegates to the refresh store.
func (s *TokenService) RotateRefreshToken(ctx context.Context, userID, token string) (*repository.IssuedRefreshToken, error) {
	return s.refresh.Rotate(ctx, userID, token)
}

// RevokeRefreshToken delegates to the refresh store.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, userID, tokenID string) error {
	return s.refresh.Revoke(ctx, userID, tokenID)
}

// VerifyRefreshToken delegates to the refresh store.
func (s *TokenService) VerifyRefreshToken(ctx context.Context, userID, token string) (*repository.VerifiedRefreshToken, error) {
	return s.refresh.Verify(ctx, userID, token)
}

// RevokeAllRefreshTokens signs the user out everywhere.
func (s *TokenService) RevokeAllRefreshTokens(ctx context.Context, userID string) (int, error) {
	return s.refresh.RevokeAll(ctx, userID)
}

func (s *TokenService) discardRefresh(userID, tokenID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.refresh.Revoke(ctx, userID, tokenID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to discard orphaned refresh token")
	}
}

type tenantProfile struct {
	memberships []model.Membership
	customer    *model.Customer
	singer      *model.Singer
}

func (s *TokenService) buildClaims(ctx context.Context, userID string, override *auth.ActiveContext) (*auth.AccessClaims, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unauthenticated("unknown user", nil)
	}
	if err != nil {
		return nil, apperr.Unavailable("users.load", err)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	orgs, err := s.resolveOrganizations(ctx, userID, profile.memberships)
	if err != nil {
		return nil, err
	}

	active, err := resolveActiveContext(override, profile, orgs)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	return &auth.AccessClaims{
		Email:         user.Email,
		Roles:         auth.NormalizeSlugs(user.GlobalRoles),
		Organizations: orgs,
		Context:       active,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}, nil
}

func (s *TokenService) loadProfile(ctx context.Context, userID string) (*tenantProfile, error) {
	p := &tenantProfile{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p.memberships, err = s.memberships.ListActive(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		p.customer, err = s.memberships.OwnedCustomer(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		p.singer, err = s.memberships.OwnedSinger(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Unavailable("memberships.load", err)
	}
	return p, nil
}

// resolveOrganizations resolves every membership without a version hint so
// the claim reflects the store, not a cached snapshot.
func (s *TokenService) resolveOrganizations(ctx context.Context, userID string, memberships []model.Membership) ([]auth.OrganizationClaim, error) {
	sets := make([]*auth.PermissionSet, len(memberships))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range memberships {
		i, orgID := i, m.OrganizationID
		g.Go(func() error {
			set, err := s.permissions.GetOrganizationPermissions(gctx, userID, auth.OrganizationClaim{OrganizationID: orgID})
			sets[i] = set
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	orgs := make([]auth.OrganizationClaim, 0, len(sets))
	seen := map[string]bool{}
	for _, set := range sets {
		if set == nil || seen[set.OrganizationID] {
			continue
		}
		seen[set.OrganizationID] = true
		orgs = append(orgs, auth.OrganizationClaim{
			OrganizationID:    set.OrganizationID,
			Roles:             set.Roles(),
			PermissionVersion: set.Version,
		})
	}
	auth.SortOrganizations(orgs)
	return orgs, nil
}

// resolveActiveContext applies, in order: a validated override, the owned
// customer, the first membership by organization id, the singer profile.
func resolveActiveContext(override *auth.ActiveContext, p *tenantProfile, orgs []auth.OrganizationClaim) (*auth.ActiveContext, error) {
	if override != nil {
		if !override.Type.Valid() || override.ID == "" {
			return nil, apperr.Invalid("context", "unknown context type")
		}
		switch override.Type {
		case auth.ContextCustomer:
			if p.customer != nil && p.customer.ID == override.ID {
				return &auth.ActiveContext{Type: auth.ContextCustomer, ID: override.ID}, nil
			}
			for _, o := range orgs {
				if o.OrganizationID == override.ID {
					return &auth.ActiveContext{Type: auth.ContextCustomer, ID: override.ID}, nil
				}
			}
		case auth.ContextSinger:
			if p.singer != nil && p.singer.ID == override.ID {
				return &auth.ActiveContext{Type: auth.ContextSinger, ID: override.ID}, nil
			}
		}
		return nil, apperr.Invalid("context", "context is not available to this account")
	}

	switch {
	case p.customer != nil:
		return &auth.ActiveContext{Type: auth.ContextCustomer, ID: p.customer.ID}, nil
	case len(orgs) > 0:
		return &auth.ActiveContext{Type: auth.ContextCustomer, ID: orgs[0].OrganizationID}, nil
	case p.singer != nil:
		return &auth.ActiveContext{Type: auth.ContextSinger, ID: p.singer.ID}, nil
	}
	return nil, nil
}
