package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSlidingWindowBoundary(t *testing.T) {
	_, rdb := setupRedis(t)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	lim := New(rdb, WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := lim.Check(ctx, "ip:10.0.0.1", 5, time.Second)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
		clock.Advance(time.Millisecond)
	}

	_, err := lim.Check(ctx, "ip:10.0.0.1", 5, time.Second)
	var rl *apperr.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 5, rl.Limit)
	assert.True(t, rl.RetryAfter > 0 && rl.RetryAfter <= time.Second)

	// 1001ms after the first call the two oldest markers have aged out.
	clock.Advance(996 * time.Millisecond)
	res, err := lim.Check(ctx, "ip:10.0.0.1", 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
}

func TestSlidingWindowRejectedCallsStillCount(t *testing.T) {
	_, rdb := setupRedis(t)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	lim := New(rdb, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = lim.Check(ctx, "k", 2, time.Second)
	}
	clock.Advance(500 * time.Millisecond)
	_, err := lim.Check(ctx, "k", 2, time.Second)
	assert.Equal(t, 429, apperr.Status(err))
}

func TestSlidingWindowSameMillisecondMarkersAreUnique(t *testing.T) {
	mr, rdb := setupRedis(t)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	lim := New(rdb, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_, err := lim.Check(context.Background(), "same-ms", 10, time.Second)
		require.NoError(t, err)
	}
	members, err := mr.ZMembers("ratelimit:same-ms")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.True(t, mr.TTL("ratelimit:same-ms") > 0)
}

func TestSlidingWindowConcurrentCallersAdmitExactlyLimit(t *testing.T) {
	_, rdb := setupRedis(t)
	lim := New(rdb, WithTimeout(5*time.Second))

	var admitted, limited int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := lim.Check(context.Background(), "burst", 5, 10*time.Second)
			var rl *apperr.RateLimitError
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case errors.As(err, &rl):
				atomic.AddInt32(&limited, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 5, admitted)
	assert.EqualValues(t, 15, limited)
}

func TestSlidingWindowFailsClosed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	lim := New(rdb)
	mr.Close()

	_, err = lim.Check(context.Background(), "down", 5, time.Second)
	var su *apperr.StoreUnavailableError
	require.ErrorAs(t, err, &su)
	assert.True(t, su.LimiterUnavailable())
	assert.Equal(t, 503, apperr.Status(err))
}

func TestPolicyKey(t *testing.T) {
	p := Policy{Action: "signin", Limit: 5, Window: time.Minute}
	assert.Equal(t, "signin:ada@example.com", p.Key("ada@example.com"))
}
