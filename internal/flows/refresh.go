package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/spendauth/jwt"
	"github.com/MrEthical07/spendauth/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalidToken
	RefreshFailureExpiredToken
	RefreshFailureSessionNotFound
	RefreshFailureSessionExpired
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshTier records how the session was located.
type RefreshTier int

const (
	TierNone RefreshTier = iota
	// TierExact matched (user, refresh token, active).
	TierExact
	// TierRecent adopted a session rotated within the recent window,
	// assumed to be a concurrent refresh of the same session. With
	// RecentDeviceMatch the device must match too.
	TierRecent
	// TierStale adopted any active session of the user.
	TierStale
)

func (t RefreshTier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierRecent:
		return "recent"
	case TierStale:
		return "stale"
	default:
		return "none"
	}
}

// StaleFallback controls the last refresh location tier.
type StaleFallback int

const (
	// StaleFallbackOff disables the stale tier.
	StaleFallbackOff StaleFallback = iota
	// StaleFallbackDeviceMatch adopts an active session only when its device
	// descriptor matches the presenting client.
	StaleFallbackDeviceMatch
	// StaleFallbackAny adopts any active session of the user.
	StaleFallbackAny
)

// RefreshResult carries either the rotated session and new pair or failure
// metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Tier    RefreshTier
	UserID  string
	Session *session.Session
	Pair    jwt.Pair
	// PreviousAccessHash is the access token digest the session carried
	// before rotation or deactivation.
	PreviousAccessHash string
}

// RefreshSessionStore is the subset of session.Store refresh needs.
type RefreshSessionStore interface {
	FindActiveByRefreshToken(ctx context.Context, userID session.UserID, refreshToken string) (*session.Session, error)
	FindRecentlyUpdated(ctx context.Context, userID session.UserID, since, now time.Time) (*session.Session, error)
	FindAnyActive(ctx context.Context, userID session.UserID, now time.Time) (*session.Session, error)
	Rotate(ctx context.Context, id string, r session.Rotation) (*session.Session, error)
	Deactivate(ctx context.Context, id, reason string, at time.Time) (*session.Session, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh func(string) (*jwt.Claims, jwt.Status)
	IssuePair     func(jwt.Identity) (jwt.Pair, error)
	// LoadIdentity refreshes email/role from the user record. Optional; on
	// nil or error the claims of the presented token are reused.
	LoadIdentity    func(context.Context, string) (jwt.Identity, error)
	SessionLifetime func(rememberMe bool) time.Duration
	Now             func() time.Time

	RecentWindow time.Duration
	// RecentDeviceMatch skips a recently rotated session whose device
	// differs from the presenting client.
	RecentDeviceMatch bool
	StaleFallback     StaleFallback
	// Device is the presenting client's descriptor.
	Device      session.Device
	MaxAttempts int

	SessionStore RefreshSessionStore
}

// RunRefresh verifies a refresh token, locates its session with the tiered
// fallback, enforces the session deadline and rotates the pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, status := deps.VerifyRefresh(refreshToken)
	switch status {
	case jwt.StatusExpired:
		return RefreshResult{Failure: RefreshFailureExpiredToken, UserID: claims.UserID}
	case jwt.StatusInvalid:
		return RefreshResult{Failure: RefreshFailureInvalidToken}
	}

	userID, err := session.ParseUserID(claims.UserID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: err}
	}

	identity := claims.Identity()
	if deps.LoadIdentity != nil {
		if fresh, err := deps.LoadIdentity(ctx, claims.UserID); err == nil {
			identity = fresh
		}
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	for i := 0; i < attempts; i++ {
		now := deps.Now()

		sess, tier, err := locateSession(ctx, userID, refreshToken, now, deps)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, UserID: claims.UserID}
			}
			return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: claims.UserID}
		}

		if !now.Before(sess.Policy.Deadline(sess)) {
			_, _ = deps.SessionStore.Deactivate(ctx, sess.ID, "expired", now)
			return RefreshResult{
				Failure:            RefreshFailureSessionExpired,
				Tier:               tier,
				UserID:             claims.UserID,
				Session:            sess,
				PreviousAccessHash: sess.AccessTokenHash,
			}
		}

		identity.RememberMe = sess.RememberMe
		pair, err := deps.IssuePair(identity)
		if err != nil {
			return RefreshResult{Failure: RefreshFailureIssue, Err: err, Tier: tier, UserID: claims.UserID, Session: sess}
		}

		rotated, err := deps.SessionStore.Rotate(ctx, sess.ID, session.Rotation{
			ExpectedRefreshHash: sess.RefreshTokenHash,
			AccessToken:         pair.AccessToken,
			RefreshToken:        pair.RefreshToken,
			At:                  now,
			ExpiresAt:           sess.Policy.NextExpiry(sess, now, deps.SessionLifetime(sess.RememberMe)),
		})
		switch {
		case err == nil:
			return RefreshResult{
				Tier:               tier,
				UserID:             claims.UserID,
				Session:            rotated,
				Pair:               pair,
				PreviousAccessHash: sess.AccessTokenHash,
			}
		case errors.Is(err, session.ErrTokenMismatch), errors.Is(err, session.ErrInactive), errors.Is(err, session.ErrNotFound):
			// Lost a race with another rotation or revocation; locate again.
			continue
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, Tier: tier, UserID: claims.UserID, Session: sess}
		}
	}

	return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: session.ErrNotFound, UserID: claims.UserID}
}

func locateSession(
	ctx context.Context,
	userID session.UserID,
	refreshToken string,
	now time.Time,
	deps RefreshDeps,
) (*session.Session, RefreshTier, error) {
	store := deps.SessionStore

	sess, err := store.FindActiveByRefreshToken(ctx, userID, refreshToken)
	if err == nil {
		return sess, TierExact, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, TierNone, err
	}

	if deps.RecentWindow > 0 {
		sess, err = store.FindRecentlyUpdated(ctx, userID, now.Add(-deps.RecentWindow), now)
		if err == nil && (!deps.RecentDeviceMatch || sess.Device.SameAs(deps.Device)) {
			return sess, TierRecent, nil
		}
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, TierNone, err
		}
	}

	if deps.StaleFallback == StaleFallbackOff {
		return nil, TierNone, session.ErrNotFound
	}
	sess, err = store.FindAnyActive(ctx, userID, now)
	if err != nil {
		return nil, TierNone, err
	}
	if deps.StaleFallback == StaleFallbackDeviceMatch && !sess.Device.SameAs(deps.Device) {
		return nil, TierNone, session.ErrNotFound
	}
	return sess, TierStale, nil
}
