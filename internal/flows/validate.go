package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/spendauth/internal/cache"
	"github.com/MrEthical07/spendauth/jwt"
	"github.com/MrEthical07/spendauth/session"
)

// ValidateFailureKind classifies request authentication failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMissing
	ValidateFailureExpired
	ValidateFailureInvalid
	ValidateFailureSessionInactive
)

// ValidateResult is the outcome of authenticating one access token.
type ValidateResult struct {
	Failure   ValidateFailureKind
	Err       error
	Claims    *jwt.Claims
	SessionID string
	CacheHit  bool
	// Degraded is set when the session store was unreachable and the request
	// was admitted on the token signature alone.
	Degraded bool
}

// ValidateSessionStore is the subset of session.Store validation needs.
type ValidateSessionStore interface {
	FindByAccessToken(ctx context.Context, accessToken string) (*session.Session, error)
}

// ValidateDeps captures validation dependencies.
type ValidateDeps struct {
	VerifyAccess func(string) (*jwt.Claims, jwt.Status)
	Cache        cache.Cache
	SessionStore ValidateSessionStore
	Now          func() time.Time

	// TouchInterval is the minimum gap between activity updates.
	TouchInterval time.Duration
	Touch         func(sessionID string, at time.Time)

	OnFallback func(error)
	OnCache    func(hit bool)
}

// RunValidate authenticates an access token against its signature and the
// session store, consulting the short-lived validation cache first.
func RunValidate(ctx context.Context, accessToken string, deps ValidateDeps) ValidateResult {
	if accessToken == "" {
		return ValidateResult{Failure: ValidateFailureMissing}
	}

	claims, status := deps.VerifyAccess(accessToken)
	switch status {
	case jwt.StatusExpired:
		return ValidateResult{Failure: ValidateFailureExpired}
	case jwt.StatusInvalid:
		return ValidateResult{Failure: ValidateFailureInvalid}
	}

	hash := session.HashToken(accessToken)
	if deps.Cache != nil {
		entry, ok := deps.Cache.Lookup(ctx, hash)
		if deps.OnCache != nil {
			deps.OnCache(ok)
		}
		if ok {
			if !entry.Valid {
				return ValidateResult{Failure: ValidateFailureSessionInactive, CacheHit: true}
			}
			return ValidateResult{Claims: claims, SessionID: entry.SessionID, CacheHit: true}
		}
	}

	now := deps.Now()
	sess, err := deps.SessionStore.FindByAccessToken(ctx, accessToken)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		remember(ctx, deps, hash, cache.Entry{Valid: false, CheckedAt: now})
		return ValidateResult{Failure: ValidateFailureSessionInactive, Err: err}
	default:
		// Store outage: admit on signature alone and leave the cache cold so
		// revocations are honoured as soon as the store returns.
		if deps.OnFallback != nil {
			deps.OnFallback(err)
		}
		return ValidateResult{Claims: claims, Degraded: true, Err: err}
	}

	if !sess.Usable(now) || sess.UserID.String() != claims.UserID {
		remember(ctx, deps, hash, cache.Entry{Valid: false, SessionID: sess.ID, CheckedAt: now})
		return ValidateResult{Failure: ValidateFailureSessionInactive, SessionID: sess.ID}
	}

	remember(ctx, deps, hash, cache.Entry{Valid: true, SessionID: sess.ID, CheckedAt: now})
	if deps.Touch != nil && now.Sub(sess.LastActivityAt) > deps.TouchInterval {
		deps.Touch(sess.ID, now)
	}

	return ValidateResult{Claims: claims, SessionID: sess.ID}
}

func remember(ctx context.Context, deps ValidateDeps, hash string, e cache.Entry) {
	if deps.Cache == nil {
		return
	}
	_ = deps.Cache.Store(ctx, hash, e)
}
