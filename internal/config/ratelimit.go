package config

import (
    "os"
    "strconv"
    "time"
)

// RateLimitConfig configures the sliding-window limiters. The global
// policy guards every request; the sign-in and refresh policies guard the
// credential endpoints per email and per user.
type RateLimitConfig struct {
    Enabled        bool
    Limit          int
    Window         time.Duration
    KeyStrategy    string // ip | route | ip_route
    Prefix         string
    Timeout        time.Duration
    SignInLimit    int
    SignInWindow   time.Duration
    RefreshLimit   int
    RefreshWindow  time.Duration
    // TrustedProxies lists the CIDRs allowed to set X-Forwarded-For.
    // Empty means the peer address is the client address.
    TrustedProxies []string
}

func LoadRateLimitConfig() RateLimitConfig {
    def := RateLimitConfig{
        Enabled:        envBool("RATE_LIMIT_ENABLED", true),
        Limit:          envInt("RATE_LIMIT_LIMIT", 120),
        Window:         envDur("RATE_LIMIT_WINDOW", time.Minute),
        KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip"),
        Prefix:         envStr("RATE_LIMIT_PREFIX", "ratelimit"),
        Timeout:        envDur("RATE_LIMIT_TIMEOUT", 500*time.Millisecond),
        SignInLimit:    envInt("RATE_LIMIT_SIGNIN_LIMIT", 5),
        SignInWindow:   envDur("RATE_LIMIT_SIGNIN_WINDOW", 15*time.Minute),
        RefreshLimit:   envInt("RATE_LIMIT_REFRESH_LIMIT", 30),
        RefreshWindow:  envDur("RATE_LIMIT_REFRESH_WINDOW", time.Hour),
        TrustedProxies: envList("RATE_LIMIT_TRUSTED_PROXIES", nil),
    }
    if def.Limit < 1 { def.Limit = 1 }
    if def.Window <= 0 { def.Window = time.Minute }
    if def.SignInLimit < 1 { def.SignInLimit = 1 }
    if def.SignInWindow <= 0 { def.SignInWindow = 15 * time.Minute }
    if def.RefreshLimit < 1 { def.RefreshLimit = 1 }
    if def.RefreshWindow <= 0 { def.RefreshWindow = time.Hour }
    return def
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch v {
    case "1","true","TRUE","True","yes","YES","on","ON": return true
    case "0","false","FALSE","False","no","NO","off","OFF": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
