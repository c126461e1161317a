package spendauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/notify"
	"github.com/MrEthical07/spendauth/session"
	"go.uber.org/zap"
)

// ListSessions returns the caller's active sessions, newest first, marking
// the one that authenticated the request.
func (e *Engine) ListSessions(ctx context.Context, auth *AuthResult) ([]SessionView, error) {
	uid, err := session.ParseUserID(auth.UserID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	active, err := e.sessions.ListActive(ctx, uid, e.now())
	if err != nil {
		return nil, storeUnavailable(err)
	}

	out := make([]SessionView, 0, len(active))
	for _, s := range active {
		out = append(out, SessionView{
			ID:             s.ID,
			Device:         s.Device,
			Location:       s.Location,
			RememberMe:     s.RememberMe,
			Current:        s.ID == auth.SessionID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	return out, nil
}

// CheckSessionAge looks up the session bound to accessToken and reports
// whether it is at least minAge old.
//
// Errors: ErrSessionInactive when the token has no active session of
// userID, ErrStoreUnavailable when the store cannot be reached.
func (e *Engine) CheckSessionAge(ctx context.Context, userID, accessToken string, minAge time.Duration) (AgeCheck, error) {
	sess, err := e.sessions.FindByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return AgeCheck{}, ErrSessionInactive
		}
		return AgeCheck{}, storeUnavailable(err)
	}

	now := e.now()
	if sess.UserID.String() != userID || !sess.Usable(now) {
		return AgeCheck{}, ErrSessionInactive
	}

	age := now.Sub(sess.CreatedAt)
	if age >= minAge {
		return AgeCheck{IsValid: true, SessionAge: age, RequiredAge: minAge}, nil
	}
	gate := &AgeGateError{SessionAge: age, RequiredAge: minAge}
	return AgeCheck{
		IsValid:     false,
		Message:     gate.Error(),
		SessionAge:  age,
		RequiredAge: minAge,
	}, nil
}

func (e *Engine) requireSessionAge(ctx context.Context, auth *AuthResult) error {
	check, err := e.CheckSessionAge(ctx, auth.UserID, auth.AccessToken, e.config.Security.MinSessionAge)
	if err != nil {
		return err
	}
	return check.Err()
}

// RevokeSession deactivates one of the caller's other sessions.
//
// Errors: *ValidationError, ErrCannotRevokeCurrent, *AgeGateError,
// ErrSessionNotFound, ErrStoreUnavailable.
func (e *Engine) RevokeSession(ctx context.Context, auth *AuthResult, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalidField("sessionId", "Session ID is required")
	}
	if sessionID == auth.SessionID {
		return ErrCannotRevokeCurrent
	}
	if err := e.requireSessionAge(ctx, auth); err != nil {
		return err
	}

	target, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return storeUnavailable(err)
	}
	if target.UserID.String() != auth.UserID || !target.IsActive {
		return ErrSessionNotFound
	}

	revoked, err := e.sessions.Deactivate(ctx, sessionID, reasonRevoked, e.now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInactive) {
			return ErrSessionNotFound
		}
		return storeUnavailable(err)
	}

	e.evict(ctx, revoked.AccessTokenHash)
	e.metrics.sessionsRevoked(reasonRevoked, 1)
	e.securityEvent(ctx, auth.UserID, audit.EventSessionRevoked, auth.SessionID, map[string]string{
		"revokedSessionId": sessionID,
	})
	return nil
}

// RevokeOtherSessions deactivates every session of the caller except the
// current one and returns how many were revoked.
//
// Errors: *AgeGateError, ErrSessionInactive, ErrStoreUnavailable.
func (e *Engine) RevokeOtherSessions(ctx context.Context, auth *AuthResult) (int, error) {
	if err := e.requireSessionAge(ctx, auth); err != nil {
		return 0, err
	}

	n, err := e.revokeAll(ctx, auth.UserID, auth.SessionID, reasonRevokedAll)
	if err != nil {
		return n, err
	}

	e.securityEvent(ctx, auth.UserID, audit.EventSessionsRevoked, auth.SessionID, map[string]string{
		"count": itoa(n),
	})
	if n > 0 {
		e.notify(ctx, notify.Message{
			Kind:     notify.KindSessionsRevoked,
			Channels: []notify.Channel{notify.ChannelInApp},
			UserID:   auth.UserID,
			Email:    auth.Email,
			Data:     map[string]string{"count": itoa(n)},
		})
	}
	return n, nil
}

// revokeAll deactivates every active session of userID except exceptID and
// purges the validation cache.
func (e *Engine) revokeAll(ctx context.Context, userID, exceptID, reason string) (int, error) {
	uid, err := session.ParseUserID(userID)
	if err != nil {
		return 0, err
	}

	revoked, err := e.sessions.DeactivateAll(ctx, uid, exceptID, reason, e.now())
	// Purge even on partial failure; some sessions may already be inactive.
	e.purgeCache(ctx)
	e.metrics.sessionsRevoked(reason, len(revoked))
	if err != nil {
		e.log.Error("bulk session revocation failed",
			zap.String("user_id", userID),
			zap.Int("revoked", len(revoked)),
			zap.Error(err),
		)
		return len(revoked), storeUnavailable(err)
	}
	return len(revoked), nil
}
