package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMemoryTTL(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(0, 0, c.now)
	ctx := context.Background()

	_ = m.Store(ctx, "h1", Entry{Valid: true, SessionID: "s1"})
	if e, ok := m.Lookup(ctx, "h1"); !ok || !e.Valid || e.SessionID != "s1" {
		t.Fatalf("expected hit, got %+v %v", e, ok)
	}

	c.t = c.t.Add(9 * time.Second)
	if _, ok := m.Lookup(ctx, "h1"); !ok {
		t.Fatal("entry younger than ttl must hit")
	}
	c.t = c.t.Add(time.Second)
	if _, ok := m.Lookup(ctx, "h1"); ok {
		t.Fatal("entry at ttl must miss")
	}
}

func TestMemoryEvictAndPurge(t *testing.T) {
	m := NewMemory(time.Minute, 0, nil)
	ctx := context.Background()

	_ = m.Store(ctx, "a", Entry{Valid: true})
	_ = m.Store(ctx, "b", Entry{Valid: true})
	_ = m.Evict(ctx, "a")
	if _, ok := m.Lookup(ctx, "a"); ok {
		t.Fatal("evicted entry must miss")
	}
	if _, ok := m.Lookup(ctx, "b"); !ok {
		t.Fatal("other entry must survive evict")
	}
	_ = m.Purge(ctx)
	if m.Len() != 0 {
		t.Fatalf("purge left %d entries", m.Len())
	}
}

func TestMemorySweepsStaleEntriesPastThreshold(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(10*time.Second, 1000, c.now)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_ = m.Store(ctx, fmt.Sprintf("h%d", i), Entry{Valid: true})
	}
	c.t = c.t.Add(11 * time.Second)
	_ = m.Store(ctx, "fresh", Entry{Valid: true})

	if got := m.Len(); got != 1 {
		t.Fatalf("expected stale entries swept, have %d", got)
	}
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestRedisCacheLifecycle(t *testing.T) {
	rdb, mr := newTestRedis(t)
	r := NewRedis(rdb, "sc", 10*time.Second)
	ctx := context.Background()

	if err := r.Store(ctx, "h1", Entry{Valid: true, SessionID: "s1"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if e, ok := r.Lookup(ctx, "h1"); !ok || e.SessionID != "s1" {
		t.Fatalf("expected hit, got %+v %v", e, ok)
	}

	mr.FastForward(10 * time.Second)
	if _, ok := r.Lookup(ctx, "h1"); ok {
		t.Fatal("expired entry must miss")
	}

	_ = r.Store(ctx, "h2", Entry{Valid: true})
	if err := r.Evict(ctx, "h2"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok := r.Lookup(ctx, "h2"); ok {
		t.Fatal("evicted entry must miss")
	}

	_ = r.Store(ctx, "h3", Entry{Valid: true})
	if err := r.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := r.Lookup(ctx, "h3"); ok {
		t.Fatal("purged entry must miss")
	}
}

func TestRedisCacheDownReadsAsMiss(t *testing.T) {
	rdb, mr := newTestRedis(t)
	r := NewRedis(rdb, "", 0)
	mr.Close()
	if _, ok := r.Lookup(context.Background(), "h"); ok {
		t.Fatal("expected miss when backend is down")
	}
	if err := r.Store(context.Background(), "h", Entry{Valid: true}); err == nil {
		t.Fatal("expected store error when backend is down")
	}
}

func TestImplementations(t *testing.T) {
	var _ Cache = (*Memory)(nil)
	var _ Cache = (*Redis)(nil)
}
