package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

func TestLoadReadsAuthSettings(t *testing.T) {
    t.Setenv("DB_USER", "root")
    t.Setenv("DB_HOST", "localhost")
    t.Setenv("DB_NAME", "karaoke")
    t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
    t.Setenv("REFRESH_TOKEN_TTL_DAYS", "30")
    t.Setenv("GLOBAL_ADMIN_ROLES", "platform-admin, support-admin ,")
    t.Setenv("JWT_AUDIENCE", "karaoke-web")

    cfg := Load()
    assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
    assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTTL)
    assert.Equal(t, []string{"platform-admin", "support-admin"}, cfg.Auth.GlobalAdminRoles)
    assert.Equal(t, "karaoke-web", cfg.Auth.Audience)
    assert.Equal(t, "3306", cfg.DBPort)
    assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
}

func TestLoadRateLimitConfigDefaultsAndClamps(t *testing.T) {
    t.Setenv("RATE_LIMIT_LIMIT", "0")
    t.Setenv("RATE_LIMIT_WINDOW", "garbage")
    t.Setenv("RATE_LIMIT_ENABLED", "off")

    cfg := LoadRateLimitConfig()
    assert.False(t, cfg.Enabled)
    assert.Equal(t, 1, cfg.Limit)
    assert.Equal(t, time.Minute, cfg.Window)
    assert.Equal(t, "ip", cfg.KeyStrategy)
    assert.Equal(t, 5, cfg.SignInLimit)
    assert.Empty(t, cfg.TrustedProxies)

    t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12")
    assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, LoadRateLimitConfig().TrustedProxies)
}

func TestLoadPermissionCacheConfig(t *testing.T) {
    t.Setenv("PERMISSION_CACHE_TTL", "5m")
    cfg := LoadPermissionCacheConfig()
    assert.Equal(t, 5*time.Minute, cfg.TTL)
    assert.Equal(t, 150*time.Millisecond, cfg.ReadTimeout)
    assert.Equal(t, "auth.membership.changed", cfg.MembershipQueue)
}
