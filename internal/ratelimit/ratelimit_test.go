// ABOUTME: Tests for the memory and Redis rolling-window limiters.
// ABOUTME: Validates the five-per-minute budget, window expiry, eviction and concurrency safety.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupRedisLimiter(t *testing.T, clock *fakeClock) *RedisLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	l, err := NewRedis(context.Background(), RedisOptions{
		URL:    fmt.Sprintf("redis://%s", mr.Addr()),
		Limit:  DefaultLimit,
		Window: DefaultWindow,
		Now:    clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// exerciseLoginBudget checks six attempts inside a minute, then one after 61s.
func exerciseLoginBudget(t *testing.T, l Limiter, clock *fakeClock) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, "ada@example.com"), "attempt %d", i+1)
		clock.Advance(time.Second)
	}

	err := l.Allow(ctx, "ada@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrRateLimited)

	var rl *record.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 55*time.Second, rl.RetryAfter)

	// other emails are unaffected
	assert.NoError(t, l.Allow(ctx, "grace@example.com"))

	clock.Advance(61 * time.Second)
	assert.NoError(t, l.Allow(ctx, "ada@example.com"))
}

func TestMemoryLimiter_LoginBudget(t *testing.T) {
	clock := newFakeClock()
	l := NewMemory(DefaultLimit, DefaultWindow, WithClock(clock.Now))
	defer l.Close()

	exerciseLoginBudget(t, l, clock)
}

func TestRedisLimiter_LoginBudget(t *testing.T) {
	clock := newFakeClock()
	exerciseLoginBudget(t, setupRedisLimiter(t, clock), clock)
}

func TestMemoryLimiter_RejectedAttemptsDoNotExtendWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemory(2, time.Minute, WithClock(clock.Now))
	defer l.Close()

	require.NoError(t, l.Allow(ctx, "k"))
	require.NoError(t, l.Allow(ctx, "k"))
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		assert.Error(t, l.Allow(ctx, "k"))
	}

	clock.Advance(10 * time.Second)
	assert.NoError(t, l.Allow(ctx, "k"))
}

func TestMemoryLimiter_Eviction(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemory(1, time.Hour, WithClock(clock.Now), WithMaxKeys(2))
	defer l.Close()

	require.NoError(t, l.Allow(ctx, "key-1"))
	require.NoError(t, l.Allow(ctx, "key-2"))
	require.NoError(t, l.Allow(ctx, "key-3"))

	// key-1 was evicted, so it starts over
	assert.NoError(t, l.Allow(ctx, "key-1"))
	assert.Error(t, l.Allow(ctx, "key-1"))
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemory(5, time.Minute, WithClock(clock.Now))
	defer l.Close()

	require.NoError(t, l.Allow(ctx, "a"))
	require.NoError(t, l.Allow(ctx, "b"))

	clock.Advance(2 * time.Minute)
	l.runCleanup()

	l.mu.Lock()
	n := len(l.keys)
	l.mu.Unlock()
	assert.Equal(t, 0, n, "cleanup should drop idle keys")
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(1000, time.Minute)
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = l.Allow(ctx, fmt.Sprintf("key-%d", id%5))
			}
		}(i)
	}
	wg.Wait()

	// 5 keys x 200 attempts each, all under the budget
	assert.NoError(t, l.Allow(ctx, "key-0"))
}

func TestMemoryLimiter_Close(t *testing.T) {
	l := NewMemory(DefaultLimit, DefaultWindow)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
