package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockoutConfig holds the automatic account lockout policy.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutConfig locks an account for 15 minutes after 5 consecutive
// failed logins.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{Enabled: true, Threshold: 5, Duration: 15 * time.Minute}
}

var (
	// ErrLockoutUnavailable indicates the user store could not record lockout state.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutReasonFailedAttempts is stored as the lock reason when the
// threshold trips.
const LockoutReasonFailedAttempts = "too_many_failed_attempts"

// LockoutState is the lockout view of a user record.
type LockoutState struct {
	FailedAttempts int
	Locked         bool
	LockedUntil    time.Time
}

// LockoutStore persists lockout state on the user record. Implementations
// must make IncrementFailedLogins atomic.
type LockoutStore interface {
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	LockAccount(ctx context.Context, userID string, until time.Time, reason string) error
	ClearLockout(ctx context.Context, userID string) error
}

// Verdict is the result of checking a user before credential verification.
type Verdict struct {
	Locked    bool
	Remaining time.Duration
	// Unlocked is set when an expired lock was cleared by this check.
	Unlocked bool
}

// RemainingMinutes rounds the remaining lock time up to whole minutes.
func (v Verdict) RemainingMinutes() int {
	if v.Remaining <= 0 {
		return 0
	}
	return int((v.Remaining + time.Minute - 1) / time.Minute)
}

// LockoutPolicy tracks consecutive failed logins per user and imposes a
// timed lock.
type LockoutPolicy struct {
	store  LockoutStore
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutPolicy returns a policy writing through store. now may be nil.
func NewLockoutPolicy(store LockoutStore, cfg LockoutConfig, now func() time.Time) *LockoutPolicy {
	if now == nil {
		now = time.Now
	}
	return &LockoutPolicy{store: store, config: cfg, now: now}
}

// Check reports whether state is currently locked. An expired lock is
// cleared so the attempt proceeds through normal credential checking.
func (p *LockoutPolicy) Check(ctx context.Context, userID string, state LockoutState) (Verdict, error) {
	if p == nil || !state.Locked {
		return Verdict{}, nil
	}

	now := p.now()
	if now.Before(state.LockedUntil) {
		return Verdict{Locked: true, Remaining: state.LockedUntil.Sub(now)}, nil
	}

	if err := p.store.ClearLockout(ctx, userID); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return Verdict{Unlocked: true}, nil
}

// RecordFailure counts a failed password verification. When the count
// reaches the threshold the account is locked and the verdict says so.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, userID string) (Verdict, int, error) {
	if p == nil || !p.config.Enabled || userID == "" {
		return Verdict{}, 0, nil
	}

	count, err := p.store.IncrementFailedLogins(ctx, userID)
	if err != nil {
		return Verdict{}, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count < p.config.Threshold {
		return Verdict{}, count, nil
	}

	until := p.now().Add(p.config.Duration)
	if err := p.store.LockAccount(ctx, userID, until, LockoutReasonFailedAttempts); err != nil {
		return Verdict{}, count, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return Verdict{Locked: true, Remaining: p.config.Duration}, count, nil
}

// RecordSuccess resets the counter after a successful login.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, userID string, state LockoutState) error {
	if p == nil || (state.FailedAttempts == 0 && !state.Locked) {
		return nil
	}
	if err := p.store.ClearLockout(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
