// Package ratelimit implements a distributed sliding-window limiter on top
// of a Redis sorted set. Each check is one atomic script invocation; any
// failure to run it rejects the operation.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
)

// KEYS[1] = window key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = unique member
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
redis.call('ZADD', key, now_ms, ARGV[3])
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window_ms)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_ms = now_ms
if oldest[2] ~= nil then
    oldest_ms = tonumber(oldest[2])
end
return { count, oldest_ms }
`)

// Result is returned for admitted operations.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Policy names a limit applied to an action.
type Policy struct {
	Action string
	Limit  int
	Window time.Duration
}

// Key builds the limiter key for identity under this policy.
func (p Policy) Key(identity string) string {
	return p.Action + ":" + identity
}

// SlidingWindow is safe for concurrent use; all state lives in Redis.
type SlidingWindow struct {
	rdb     redis.Scripter
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithPrefix changes the key namespace (default "ratelimit").
func WithPrefix(p string) Option {
	return func(s *SlidingWindow) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithTimeout bounds each check. A timeout rejects the operation.
func WithTimeout(d time.Duration) Option {
	return func(s *SlidingWindow) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *SlidingWindow) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns a limiter backed by rdb.
func New(rdb redis.Scripter, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		rdb:     rdb,
		prefix:  "ratelimit",
		timeout: 500 * time.Millisecond,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check records one operation for key and reports whether it fits in the
// trailing window. A rejected operation still occupies a slot.
//
// Errors are *apperr.RateLimitError when over the limit and
// *apperr.StoreUnavailableError when the check could not be completed.
func (s *SlidingWindow) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit < 1 || window <= 0 {
		return Result{}, fmt.Errorf("ratelimit: invalid policy limit=%d window=%s", limit, window)
	}
	if s.rdb == nil {
		return Result{}, apperr.Unavailable(apperr.OpRateLimit, fmt.Errorf("no redis client"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	vals, err := slidingWindowScript.Run(ctx, s.rdb,
		[]string{s.prefix + ":" + key},
		nowMs, window.Milliseconds(), member,
	).Int64Slice()
	if err != nil {
		return Result{}, apperr.Unavailable(apperr.OpRateLimit, err)
	}
	if len(vals) != 2 {
		return Result{}, apperr.Unavailable(apperr.OpRateLimit, fmt.Errorf("unexpected script result %v", vals))
	}

	count := int(vals[0])
	resetAt := time.UnixMilli(vals[1]).Add(window)

	if count > limit {
		retry := resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Result{Limit: limit, Remaining: 0, ResetAt: resetAt}, &apperr.RateLimitError{
			Key:        key,
			Limit:      limit,
			RetryAfter: retry,
			ResetAt:    resetAt,
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Limit: limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Allow applies policy p to identity.
func (s *SlidingWindow) Allow(ctx context.Context, p Policy, identity string) (Result, error) {
	return s.Check(ctx, p.Key(identity), p.Limit, p.Window)
}
