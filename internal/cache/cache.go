package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a validity result is trusted.
const DefaultTTL = 10 * time.Second

// DefaultSweepThreshold is the entry count above which Memory drops stale
// entries on write.
const DefaultSweepThreshold = 1000

// ErrRedisUnavailable wraps shared cache backend failures.
var ErrRedisUnavailable = errors.New("session cache redis unavailable")

// Entry is a memoized validity result.
type Entry struct {
	Valid     bool      `json:"valid"`
	SessionID string    `json:"sid,omitempty"`
	CheckedAt time.Time `json:"at"`
}

// Cache is the session validation cache contract.
type Cache interface {
	Lookup(ctx context.Context, tokenHash string) (Entry, bool)
	Store(ctx context.Context, tokenHash string, e Entry) error
	Evict(ctx context.Context, tokenHash string) error
	Purge(ctx context.Context) error
}

// Memory is a process-local cache.
type Memory struct {
	ttl   time.Duration
	sweep int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory returns a process-local cache. Zero ttl or sweep select the
// defaults; now may be nil.
func NewMemory(ttl time.Duration, sweep int, now func() time.Time) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep <= 0 {
		sweep = DefaultSweepThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{ttl: ttl, sweep: sweep, now: now, entries: make(map[string]Entry)}
}

// Lookup returns a fresh entry for tokenHash.
func (m *Memory) Lookup(_ context.Context, tokenHash string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[tokenHash]
	if !ok {
		return Entry{}, false
	}
	if m.now().Sub(e.CheckedAt) >= m.ttl {
		delete(m.entries, tokenHash)
		return Entry{}, false
	}
	return e, true
}

// Store records e for tokenHash, sweeping stale entries once the map grows
// past the threshold.
func (m *Memory) Store(_ context.Context, tokenHash string, e Entry) error {
	now := m.now()
	if e.CheckedAt.IsZero() {
		e.CheckedAt = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.sweep {
		for k, old := range m.entries {
			if now.Sub(old.CheckedAt) >= m.ttl {
				delete(m.entries, k)
			}
		}
	}
	m.entries[tokenHash] = e
	return nil
}

// Evict drops the entry for tokenHash.
func (m *Memory) Evict(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	delete(m.entries, tokenHash)
	m.mu.Unlock()
	return nil
}

// Purge drops every entry.
func (m *Memory) Purge(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries held, fresh or stale.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Redis is a cache shared by every instance using the same Redis. Purge bumps
// a generation counter that is part of every entry key, so old entries
// become unreachable at once and expire on their own TTL.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a shared cache rooted at prefix ("sc" when empty).
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "sc"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{redis: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) genKey() string { return r.prefix + ":gen" }

func (r *Redis) entryKey(gen int64, tokenHash string) string {
	return r.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + tokenHash
}

func (r *Redis) generation(ctx context.Context) (int64, error) {
	gen, err := r.redis.Get(ctx, r.genKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return gen, nil
}

// Lookup returns a fresh entry for tokenHash. Backend errors read as a miss.
func (r *Redis) Lookup(ctx context.Context, tokenHash string) (Entry, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		return Entry{}, false
	}
	data, err := r.redis.Get(ctx, r.entryKey(gen, tokenHash)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// Store writes e with the cache TTL.
func (r *Redis) Store(ctx context.Context, tokenHash string, e Entry) error {
	gen, err := r.generation(ctx)
	if err != nil {
		return err
	}
	if e.CheckedAt.IsZero() {
		e.CheckedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, r.entryKey(gen, tokenHash), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Evict deletes the entry for tokenHash in the current generation.
func (r *Redis) Evict(ctx context.Context, tokenHash string) error {
	gen, err := r.generation(ctx)
	if err != nil {
		return err
	}
	if err := r.redis.Del(ctx, r.entryKey(gen, tokenHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Purge advances the generation.
func (r *Redis) Purge(ctx context.Context) error {
	if err := r.redis.Incr(ctx, r.genKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
