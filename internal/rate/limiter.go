package rate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps counter backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Policy is the budget enforced by one limiter instance.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Policy() Policy
}

type bucket struct {
	count int
	start time.Time
}

const sweepThreshold = 1024

// Memory is an in-process fixed-window limiter. Buckets are lost on restart.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemory returns an in-process limiter. now may be nil.
func NewMemory(p Policy, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{policy: p, now: now, buckets: make(map[string]*bucket)}
}

// Policy returns the configured budget.
func (m *Memory) Policy() Policy { return m.policy }

// Allow counts a request for key against the current window.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buckets) > sweepThreshold {
		m.sweepLocked(now)
	}

	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= m.policy.Window {
		b = &bucket{start: now}
		m.buckets[key] = b
	}
	if b.count >= m.policy.Limit {
		return Decision{RetryAfter: m.policy.Window}, nil
	}
	b.count++
	return Decision{Allowed: true, Remaining: m.policy.Limit - b.count}, nil
}

// Reset drops the bucket for key.
func (m *Memory) Reset(key string) {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.start) >= m.policy.Window {
			delete(m.buckets, k)
		}
	}
}

// Redis is a fixed-window limiter whose counters are shared by every
// process using the same Redis.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	policy Policy
}

// NewRedis returns a shared limiter. Keys are "{prefix}:{policy name}:{key}".
func NewRedis(client redis.UniversalClient, prefix string, p Policy) *Redis {
	if prefix == "" {
		prefix = "rl"
	}
	return &Redis{redis: client, prefix: prefix, policy: p}
}

// Policy returns the configured budget.
func (l *Redis) Policy() Policy { return l.policy }

// Allow increments the window counter for key.
func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	count, err := l.incrementWithTTL(ctx, l.prefix+":"+l.policy.Name+":"+key, l.policy.Window)
	if err != nil {
		return Decision{}, err
	}
	if count > int64(l.policy.Limit) {
		return Decision{RetryAfter: l.policy.Window}, nil
	}
	return Decision{Allowed: true, Remaining: l.policy.Limit - int(count)}, nil
}

func (l *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	// SET NX seeds the window with its TTL in the same transaction as INCR,
	// so a counter can never outlive its window.
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, ttl)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}
