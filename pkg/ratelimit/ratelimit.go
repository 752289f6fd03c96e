// Package ratelimit bounds how often a client may call an endpoint.
//
// Callers treat a Limiter error as a rejection.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether key may proceed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy allows Limit requests per Window, refilled continuously.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy is 10 requests per minute.
var DefaultPolicy = Policy{Limit: 10, Window: time.Minute}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = DefaultPolicy.Limit
	}
	if p.Window <= 0 {
		p.Window = DefaultPolicy.Window
	}
	return p
}

// PerSecond is the refill rate.
func (p Policy) PerSecond() float64 {
	p = p.normalized()
	return float64(p.Limit) / p.Window.Seconds()
}

// RetryAfter suggests how long a rejected client should wait for one token.
func (p Policy) RetryAfter() time.Duration {
	p = p.normalized()
	d := p.Window / time.Duration(p.Limit)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Memory is a per-key token bucket limiter for single-instance deployments.
type Memory struct {
	policy Policy
	clock  func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{
		policy:   p.normalized(),
		clock:    time.Now,
		visitors: make(map[string]*visitor),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Idle visitors are dropped lazily; a full bucket is indistinguishable
	// from a new one once Window has passed.
	if now.Sub(m.lastSweep) > m.policy.Window {
		m.sweep(now)
		m.lastSweep = now
	}

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(m.policy.PerSecond()), m.policy.Limit)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

func (m *Memory) sweep(now time.Time) {
	for k, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.policy.Window {
			delete(m.visitors, k)
		}
	}
}

// Len reports the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}
