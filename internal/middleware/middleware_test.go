package middleware

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus/hooks/test"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/auth"
    "github.com/iliyamo/karaoke-backend/internal/config"
    "github.com/iliyamo/karaoke-backend/internal/ratelimit"
)

type resolverFunc func(ctx context.Context, userID string, claim auth.OrganizationClaim) (*auth.PermissionSet, error)

func (f resolverFunc) GetOrganizationPermissions(ctx context.Context, userID string, claim auth.OrganizationClaim) (*auth.PermissionSet, error) {
    return f(ctx, userID, claim)
}

func newRequest(method, target string) (*httptest.ResponseRecorder, echo.Context) {
    e := echo.New()
    e.IPExtractor = echo.ExtractIPDirect()
    req := httptest.NewRequest(method, target, nil)
    rec := httptest.NewRecorder()
    return rec, e.NewContext(req, rec)
}

func signedToken(t *testing.T, keys *auth.KeyPair, roles []string, orgs ...auth.OrganizationClaim) string {
    t.Helper()
    now := time.Now().Truncate(time.Second)
    if orgs == nil {
        orgs = []auth.OrganizationClaim{}
    }
    raw, err := keys.Sign(&auth.AccessClaims{
        Email:         "ada@example.com",
        Roles:         roles,
        Organizations: orgs,
        Context:       &auth.ActiveContext{Type: auth.ContextCustomer, ID: "org-a"},
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   "user-1",
            Issuer:    "iss",
            Audience:  jwt.ClaimStrings{"aud"},
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
            ID:        "jti-1",
        },
    })
    require.NoError(t, err)
    return raw
}

func authStack(t *testing.T) (*auth.KeyPair, echo.MiddlewareFunc) {
    t.Helper()
    keys, err := auth.GenerateKeyPair()
    require.NoError(t, err)
    log, _ := test.NewNullLogger()
    h := &auth.Hydrator{
        Resolver: resolverFunc(func(_ context.Context, _ string, c auth.OrganizationClaim) (*auth.PermissionSet, error) {
            if c.OrganizationID == "org-broken" {
                return nil, apperr.Unavailable("permissions.load", errors.New("down"))
            }
            return auth.NewPermissionSet(c.OrganizationID, "customer-admin", time.Unix(0, 0), []string{"customer.venues"}), nil
        }),
        AdminRoles: auth.DefaultGlobalAdminRoles,
        Log:        log,
    }
    return keys, Authenticate(auth.NewVerifier(keys, "iss", "aud"), h)
}

func TestAuthenticateNeverRejects(t *testing.T) {
    _, authn := authStack(t)

    cases := map[string]string{
        "no header":  "",
        "not bearer": "Basic Zm9vOmJhcg==",
        "garbage":    "Bearer not.a.jwt",
    }
    for name, header := range cases {
        t.Run(name, func(t *testing.T) {
            _, c := newRequest(http.MethodGet, "/v1/me")
            if header != "" {
                c.Request().Header.Set(echo.HeaderAuthorization, header)
            }
            called := false
            err := authn(func(c echo.Context) error {
                called = true
                a := Authorization(c)
                assert.False(t, a.IsAuthenticated())
                assert.Same(t, a, auth.FromContext(c.Request().Context()))
                return nil
            })(c)
            require.NoError(t, err)
            assert.True(t, called)
        })
    }
}

func TestAuthenticateKeepsVerificationError(t *testing.T) {
    _, authn := authStack(t)
    other, err := auth.GenerateKeyPair()
    require.NoError(t, err)

    _, c := newRequest(http.MethodGet, "/v1/me")
    c.Request().Header.Set(echo.HeaderAuthorization, "Bearer "+signedToken(t, other, []string{}))
    err = authn(func(c echo.Context) error {
        _, err := Authorization(c).RequireUser()
        var aerr *apperr.AuthenticationError
        require.ErrorAs(t, err, &aerr)
        assert.Equal(t, "invalid signature", aerr.Reason)
        return nil
    })(c)
    require.NoError(t, err)
}

func TestAuthenticateHydratesOrganizations(t *testing.T) {
    keys, authn := authStack(t)
    token := signedToken(t, keys, []string{},
        auth.OrganizationClaim{OrganizationID: "org-a", Roles: []string{"customer-admin"}, PermissionVersion: "v"},
        auth.OrganizationClaim{OrganizationID: "org-broken", Roles: []string{}, PermissionVersion: "v"},
    )

    _, c := newRequest(http.MethodGet, "/v1/me")
    c.Request().Header.Set(echo.HeaderAuthorization, "Bearer "+token)
    err := authn(func(c echo.Context) error {
        a := Authorization(c)
        require.True(t, a.IsAuthenticated())
        _, ok := a.Organization("org-a")
        assert.True(t, ok)
        _, ok = a.Organization("org-broken")
        assert.False(t, ok)
        assert.Equal(t, "user-1", userID(c))
        return nil
    })(c)
    require.NoError(t, err)
}

func TestRequireGuards(t *testing.T) {
    keys, authn := authStack(t)
    ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

    run := func(token string, mw echo.MiddlewareFunc, param string) error {
        _, c := newRequest(http.MethodGet, "/")
        if token != "" {
            c.Request().Header.Set(echo.HeaderAuthorization, "Bearer "+token)
        }
        if param != "" {
            c.SetParamNames("orgId")
            c.SetParamValues(param)
        }
        return authn(mw(ok))(c)
    }

    var authnErr *apperr.AuthenticationError
    var authzErr *apperr.AuthorizationError

    assert.ErrorAs(t, run("", RequireAuth(), ""), &authnErr)
    member := signedToken(t, keys, []string{},
        auth.OrganizationClaim{OrganizationID: "org-a", Roles: []string{"customer-admin"}, PermissionVersion: "v"})
    assert.NoError(t, run(member, RequireAuth(), ""))

    assert.ErrorAs(t, run(member, RequireGlobalRole("platform-admin"), ""), &authzErr)
    admin := signedToken(t, keys, []string{"platform-admin"})
    assert.NoError(t, run(admin, RequireGlobalRole("platform-admin"), ""))

    perm := RequireOrganizationPermission("customer.venues")
    assert.NoError(t, run(member, perm, ""), "falls back to the active context")
    assert.NoError(t, run(member, perm, "org-a"))
    assert.ErrorAs(t, run(member, perm, "org-b"), &authzErr)
    assert.ErrorAs(t, run(member, RequireOrganizationPermission("customer.venues", "singer"), "org-a"), &authzErr)
    assert.ErrorAs(t, run("", perm, "org-a"), &authnErr)
}

func TestSlidingWindowMiddleware(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    cfg := config.RateLimitConfig{Enabled: true, Limit: 2, Window: time.Minute, KeyStrategy: "ip"}
    mw := NewSlidingWindow(cfg, ratelimit.New(rdb), nil)
    h := mw(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

    for i := 0; i < 2; i++ {
        rec, c := newRequest(http.MethodGet, "/healthz")
        require.NoError(t, h(c))
        assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
        assert.Equal(t, []string{"1", "0"}[i], rec.Header().Get("X-RateLimit-Remaining"))
    }

    rec, c := newRequest(http.MethodGet, "/healthz")
    err := h(c)
    var rl *apperr.RateLimitError
    require.ErrorAs(t, err, &rl)
    assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

    // Another client address has its own window.
    _, c = newRequest(http.MethodGet, "/healthz")
    c.Request().RemoteAddr = "203.0.113.9:4000"
    assert.NoError(t, h(c))

    // Redis down: fail closed.
    mr.Close()
    _, c = newRequest(http.MethodGet, "/healthz")
    c.Request().RemoteAddr = "203.0.113.10:4000"
    err = h(c)
    var su *apperr.StoreUnavailableError
    require.ErrorAs(t, err, &su)
    assert.True(t, su.LimiterUnavailable())
}

func TestSlidingWindowIgnoresForwardingHeaders(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    extract, err := ClientIPExtractor(nil)
    require.NoError(t, err)
    e := echo.New()
    e.IPExtractor = extract

    cfg := config.RateLimitConfig{Enabled: true, Limit: 2, Window: time.Minute}
    h := NewSlidingWindow(cfg, ratelimit.New(rdb), nil)(func(c echo.Context) error {
        return c.NoContent(http.StatusNoContent)
    })

    admitted := 0
    for i := 0; i < 20; i++ {
        req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
        req.RemoteAddr = "192.0.2.1:1234"
        req.Header.Set(echo.HeaderXForwardedFor, fmt.Sprintf("198.51.100.%d", i))
        req.Header.Set(echo.HeaderXRealIP, fmt.Sprintf("203.0.113.%d", i))
        if h(e.NewContext(req, httptest.NewRecorder())) == nil {
            admitted++
        }
    }
    assert.Equal(t, 2, admitted)
}

func TestClientIPExtractorTrustsConfiguredProxies(t *testing.T) {
    _, err := ClientIPExtractor([]string{"not-a-cidr"})
    require.Error(t, err)

    extract, err := ClientIPExtractor([]string{"10.0.0.0/8"})
    require.NoError(t, err)

    fromProxy := httptest.NewRequest(http.MethodGet, "/", nil)
    fromProxy.RemoteAddr = "10.1.2.3:8080"
    fromProxy.Header.Set(echo.HeaderXForwardedFor, "198.51.100.7")
    assert.Equal(t, "198.51.100.7", extract(fromProxy))

    direct := httptest.NewRequest(http.MethodGet, "/", nil)
    direct.RemoteAddr = "192.0.2.1:1234"
    direct.Header.Set(echo.HeaderXForwardedFor, "198.51.100.7")
    assert.Equal(t, "192.0.2.1", extract(direct))
}

func TestSlidingWindowDisabled(t *testing.T) {
    mw := NewSlidingWindow(config.RateLimitConfig{Enabled: false}, nil, nil)
    rec, c := newRequest(http.MethodGet, "/")
    require.NoError(t, mw(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(c))
    assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuildRateKey(t *testing.T) {
    e := echo.New()
    e.IPExtractor = echo.ExtractIPDirect()
    req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
    req.RemoteAddr = "198.51.100.7:5555"
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/auth/login")

    assert.Equal(t, "ip:198.51.100.7", buildRateKey(config.RateLimitConfig{}, c))
    assert.Equal(t, "route:POST /v1/auth/login", buildRateKey(config.RateLimitConfig{KeyStrategy: "route"}, c))
    assert.Equal(t, "ip:198.51.100.7:route:POST /v1/auth/login", buildRateKey(config.RateLimitConfig{KeyStrategy: "IP_ROUTE"}, c))
}

func TestRequestLoggerRendersErrors(t *testing.T) {
    log, hook := test.NewNullLogger()
    e := echo.New()
    rec := httptest.NewRecorder()
    c := e.NewContext(httptest.NewRequest(http.MethodGet, "/boom", nil), rec)

    err := RequestLogger(log, nil)(func(echo.Context) error {
        return echo.NewHTTPError(http.StatusTeapot, "short and stout")
    })(c)
    require.NoError(t, err)
    assert.Equal(t, http.StatusTeapot, rec.Code)
    require.NotNil(t, hook.LastEntry())
    assert.Equal(t, http.StatusTeapot, hook.LastEntry().Data["status"])
    assert.Equal(t, "guest", hook.LastEntry().Data["user_id"])
}
