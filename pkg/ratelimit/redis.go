package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = ttl seconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

// Redis is a token bucket limiter shared across instances.
type Redis struct {
	client redis.UniversalClient
	policy Policy
	prefix string
	clock  func() time.Time
}

// NewRedis creates a limiter over client. Keys are namespaced under prefix.
func NewRedis(client redis.UniversalClient, p Policy, prefix string) *Redis {
	if prefix == "" {
		prefix = "gate:ratelimit:"
	}
	return &Redis{client: client, policy: p.normalized(), prefix: prefix, clock: time.Now}
}

// NewRedisFromAddr dials a single Redis node.
func NewRedisFromAddr(addr, password string, db int, p Policy) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), p, "")
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(r.clock().UnixMicro()) / 1e6
	ttl := int(math.Ceil(r.policy.Window.Seconds() * 2))

	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key},
		r.policy.PerSecond(), r.policy.Limit, now, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	allowed, _ := vals[0].(int64)
	return allowed == 1, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }
