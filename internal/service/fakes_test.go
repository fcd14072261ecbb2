package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/karaoke-backend/internal/auth"
	"github.com/iliyamo/karaoke-backend/internal/model"
	"github.com/iliyamo/karaoke-backend/internal/queue"
	"github.com/iliyamo/karaoke-backend/internal/repository"
)

// fakeDirectory is an in-memory stand-in for the MySQL repositories.
type fakeDirectory struct {
	mu          sync.Mutex
	users       map[string]*model.User
	customers   map[string]*model.Customer // by owner
	singers     map[string]*model.Singer   // by user
	memberships []*model.Membership
	rolePerms   map[string][]string
	direct      map[string][]string // by membership id
	grantErr    map[string]error    // by organization id
	clock       time.Time
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:     map[string]*model.User{},
		customers: map[string]*model.Customer{},
		singers:   map[string]*model.Singer{},
		rolePerms: map[string][]string{
			repository.RoleCustomerAdmin: {"customer.venues", "customer.billing"},
		},
		direct:   map[string][]string{},
		grantErr: map[string]error{},
		clock:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (d *fakeDirectory) tick() time.Time {
	d.clock = d.clock.Add(time.Second)
	return d.clock
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) GetByEmail(_ context.Context, email string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *fakeDirectory) addUser(email, hash string, roles ...string) *model.User {
	u := &model.User{ID: uuid.NewString(), Email: email, GlobalRoles: roles}
	if hash != "" {
		u.PasswordHash = &hash
	}
	d.users[u.ID] = u
	return u
}

func (d *fakeDirectory) CreateCustomerAccount(_ context.Context, email, hash, name string) (*model.User, *model.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			return nil, nil, repository.ErrEmailExists
		}
	}
	u := d.addUser(email, hash)
	c := &model.Customer{ID: "org-" + uuid.NewString(), Name: name, OwnerUserID: u.ID}
	d.customers[u.ID] = c
	d.addMembershipLocked(u.ID, c.ID, repository.RoleCustomerAdmin)
	return u, c, nil
}

func (d *fakeDirectory) CreateSingerAccount(_ context.Context, email, hash, name string) (*model.User, *model.Singer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.addUser(email, hash)
	s := &model.Singer{ID: "singer-" + uuid.NewString(), UserID: u.ID, DisplayName: name}
	d.singers[u.ID] = s
	return u, s, nil
}

func (d *fakeDirectory) addMembership(userID, orgID, role string) *model.Membership {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addMembershipLocked(userID, orgID, role)
}

func (d *fakeDirectory) addMembershipLocked(userID, orgID, role string) *model.Membership {
	m := &model.Membership{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		UserID:         userID,
		Status:         model.MembershipActive,
		UpdatedAt:      d.tick(),
	}
	if role != "" {
		r := role
		m.RoleID = &r
		m.RoleSlug = &r
	}
	d.memberships = append(d.memberships, m)
	return m
}

// revokeRolePermission drops perm from role and touches every membership
// holding the role, the way the management service does.
func (d *fakeDirectory) revokeRolePermission(role, perm string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var kept []string
	for _, p := range d.rolePerms[role] {
		if p != perm {
			kept = append(kept, p)
		}
	}
	d.rolePerms[role] = kept
	for _, m := range d.memberships {
		if m.Role() == role {
			m.UpdatedAt = d.tick()
		}
	}
}

func (d *fakeDirectory) ListActive(_ context.Context, userID string) ([]model.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Membership
	for _, m := range d.memberships {
		if m.UserID == userID && m.Status == model.MembershipActive {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out, nil
}

func (d *fakeDirectory) OwnedCustomer(_ context.Context, userID string) (*model.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.customers[userID], nil
}

func (d *fakeDirectory) OwnedSinger(_ context.Context, userID string) (*model.Singer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.singers[userID], nil
}

func (d *fakeDirectory) GetActiveGrants(_ context.Context, userID, orgID string) (*model.MembershipGrants, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.grantErr[orgID]; err != nil {
		return nil, err
	}
	for _, m := range d.memberships {
		if m.UserID == userID && m.OrganizationID == orgID && m.Status == model.MembershipActive {
			return &model.MembershipGrants{
				Membership:        *m,
				RolePermissions:   append([]string(nil), d.rolePerms[m.Role()]...),
				DirectPermissions: append([]string(nil), d.direct[m.ID]...),
			}, nil
		}
	}
	return nil, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.SessionEvent
}

func (p *fakePublisher) PublishSessionEvent(_ context.Context, ev queue.SessionEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	dir      *fakeDirectory
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	keys     *auth.KeyPair
	cache    *repository.PermissionCache
	refresh  *repository.RefreshTokenRepo
	resolver *PermissionResolver
	tokens   *TokenService
	verifier *auth.Verifier
	hydrator *auth.Hydrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, _ := test.NewNullLogger()
	keys, err := auth.GenerateKeyPair()
	require.NoError(t, err)

	env := &testEnv{
		dir:     newFakeDirectory(),
		mr:      mr,
		rdb:     rdb,
		keys:    keys,
		cache:   repository.NewPermissionCache(rdb, 10*time.Minute),
		refresh: repository.NewRefreshTokenRepo(rdb, 7*24*time.Hour, "salt"),
	}
	env.resolver = NewPermissionResolver(env.dir, env.cache,
		WithResolverLogger(log), WithCacheReadTimeout(time.Second))
	env.tokens, err = NewTokenService(keys, env.dir, env.dir, env.resolver, env.refresh,
		WithIssuer("karaoke-backend"), WithAudience("karaoke-clients"), WithAccessTTL(15*time.Minute),
		WithTokenLogger(log))
	require.NoError(t, err)
	env.verifier = auth.NewVerifier(keys, "karaoke-backend", "karaoke-clients")
	env.hydrator = &auth.Hydrator{Resolver: env.resolver, AdminRoles: auth.DefaultGlobalAdminRoles, Log: log}
	return env
}
