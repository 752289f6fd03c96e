package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_TenPerMinute(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(DefaultPolicy).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok, "11th request within the minute")

	ok, err = l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok, "other clients unaffected")

	clock.Advance(7 * time.Second)
	ok, err = l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, ok, "one token refilled")
}

func TestMemory_SweepsIdleKeys(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(Policy{Limit: 2, Window: time.Minute}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("ip-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, l.Len())

	clock.Advance(2 * time.Minute)
	_, err := l.Allow(ctx, "ip-new")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := NewMemory(DefaultPolicy).Allow(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPolicy(t *testing.T) {
	assert.InDelta(t, 10.0/60.0, DefaultPolicy.PerSecond(), 1e-9)
	assert.Equal(t, 6*time.Second, DefaultPolicy.RetryAfter())
	assert.Equal(t, time.Second, Policy{Limit: 1000, Window: time.Second}.RetryAfter())
	assert.Equal(t, DefaultPolicy, Policy{}.normalized())
}

func TestRedis_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ok, err := NewRedis(client, DefaultPolicy, "").Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok, "limiter errors never allow")
}

// TestRedis_Integration requires a running Redis and is skipped otherwise.
func TestRedis_Integration(t *testing.T) {
	l := NewRedisFromAddr("localhost:6379", "", 0, Policy{Limit: 2, Window: time.Minute})
	defer l.Close()
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skip("redis not available")
	}
	l.prefix = fmt.Sprintf("gate:test:%d:", time.Now().UnixNano())

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "actor")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "actor")
	require.NoError(t, err)
	assert.False(t, ok)
}
