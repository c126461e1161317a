package limiters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeLockoutStore struct {
	mu     sync.Mutex
	state  map[string]*LockoutState
	reason string
	fail   error
}

func newFakeLockoutStore() *fakeLockoutStore {
	return &fakeLockoutStore{state: map[string]*LockoutState{}}
}

func (f *fakeLockoutStore) get(id string) *LockoutState {
	if f.state[id] == nil {
		f.state[id] = &LockoutState{}
	}
	return f.state[id]
}

func (f *fakeLockoutStore) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	s := f.get(id)
	s.FailedAttempts++
	return s.FailedAttempts, nil
}

func (f *fakeLockoutStore) LockAccount(_ context.Context, id string, until time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.get(id)
	s.Locked, s.LockedUntil = true, until
	f.reason = reason
	return nil
}

func (f *fakeLockoutStore) ClearLockout(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[id] = &LockoutState{}
	return nil
}

func TestLockoutAfterThresholdForFixedDuration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newFakeLockoutStore()
	p := NewLockoutPolicy(store, DefaultLockoutConfig(), func() time.Time { return now })
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		v, count, err := p.RecordFailure(ctx, "u1")
		if err != nil || v.Locked || count != i {
			t.Fatalf("failure %d: verdict=%+v count=%d err=%v", i, v, count, err)
		}
	}
	v, count, err := p.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("5th failure: %v", err)
	}
	if !v.Locked || count != 5 || v.RemainingMinutes() != 15 {
		t.Fatalf("expected 15 minute lock at 5th failure, got %+v count=%d", v, count)
	}
	st := *store.get("u1")
	if !st.LockedUntil.Equal(now.Add(15*time.Minute)) || store.reason != LockoutReasonFailedAttempts {
		t.Fatalf("unexpected stored lock: %+v reason=%q", st, store.reason)
	}

	now = now.Add(14*time.Minute + 30*time.Second)
	v, err = p.Check(ctx, "u1", st)
	if err != nil || !v.Locked || v.RemainingMinutes() != 1 {
		t.Fatalf("expected still locked with 1 minute left, got %+v %v", v, err)
	}

	now = now.Add(30 * time.Second)
	v, err = p.Check(ctx, "u1", st)
	if err != nil || v.Locked || !v.Unlocked {
		t.Fatalf("expected auto-unlock at lockedUntil, got %+v %v", v, err)
	}
	if got := *store.get("u1"); got.Locked || got.FailedAttempts != 0 {
		t.Fatalf("expected cleared state, got %+v", got)
	}
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	store := newFakeLockoutStore()
	p := NewLockoutPolicy(store, DefaultLockoutConfig(), nil)
	ctx := context.Background()

	p.RecordFailure(ctx, "u1")
	p.RecordFailure(ctx, "u1")
	if err := p.RecordSuccess(ctx, "u1", *store.get("u1")); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if got := store.get("u1").FailedAttempts; got != 0 {
		t.Fatalf("failed attempts = %d", got)
	}
}

func TestLockoutDisabledAndNilSafe(t *testing.T) {
	store := newFakeLockoutStore()
	p := NewLockoutPolicy(store, LockoutConfig{Enabled: false, Threshold: 1, Duration: time.Minute}, nil)
	if v, _, _ := p.RecordFailure(context.Background(), "u1"); v.Locked {
		t.Fatal("disabled policy must not lock")
	}

	var nilPolicy *LockoutPolicy
	if v, err := nilPolicy.Check(context.Background(), "u1", LockoutState{Locked: true, LockedUntil: time.Now().Add(time.Hour)}); err != nil || v.Locked {
		t.Fatalf("nil policy check = %+v %v", v, err)
	}
}

func TestLockoutStoreFailure(t *testing.T) {
	store := newFakeLockoutStore()
	store.fail = errors.New("boom")
	p := NewLockoutPolicy(store, DefaultLockoutConfig(), nil)
	if _, _, err := p.RecordFailure(context.Background(), "u1"); !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("expected ErrLockoutUnavailable, got %v", err)
	}
}
