package config

import (
    "time"
)

// PermissionCacheConfig defines settings for the permission set cache.
// TTL bounds how long any entry may live regardless of version. ReadTimeout
// bounds a cache lookup; on expiry the resolver falls back to MySQL.
// MembershipQueue names the RabbitMQ queue whose events bump organization
// generations.
type PermissionCacheConfig struct {
    TTL             time.Duration
    ReadTimeout     time.Duration
    MembershipQueue string
    ConsumerEnabled bool
}

// LoadPermissionCacheConfig reads environment variables to build a
// PermissionCacheConfig.  Defaults are used when variables are not set.
func LoadPermissionCacheConfig() PermissionCacheConfig {
    cfg := PermissionCacheConfig{
        TTL:             parseDur(getenv("PERMISSION_CACHE_TTL", "10m"), 10*time.Minute),
        ReadTimeout:     parseDur(getenv("PERMISSION_CACHE_READ_TIMEOUT", "150ms"), 150*time.Millisecond),
        MembershipQueue: getenv("PERMISSION_EVENTS_QUEUE", "auth.membership.changed"),
        ConsumerEnabled: getenv("PERMISSION_EVENTS_ENABLED", "true") == "true",
    }
    if cfg.TTL <= 0 {
        cfg.TTL = 10 * time.Minute
    }
    return cfg
}

func getenv(key, def string) string {
    return envStr(key, def)
}

func parseDur(s string, def time.Duration) time.Duration {
    d, err := time.ParseDuration(s)
    if err != nil {
        return def
    }
    return d
}
