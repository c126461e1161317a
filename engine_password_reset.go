package spendauth

import (
	"context"
	"errors"
	"net/url"

	"github.com/MrEthical07/spendauth/internal"
	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/internal/stores"
	"github.com/MrEthical07/spendauth/notify"
	"go.uber.org/zap"
)

/*
====================================
PASSWORD RESET
====================================
*/

// RequestPasswordReset issues a single-use reset token for email and mails
// a link to it. Unknown addresses succeed silently so the response does
// not reveal which accounts exist.
//
// Errors: ErrForbidden when reset is disabled, *RateLimitError.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrForbidden
	}
	if err := e.CheckRate(ctx, LimiterPasswordReset); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			e.log.Warn("password reset lookup failed", zap.Error(err))
		}
		return nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		e.log.Error("password reset token generation failed", zap.Error(err))
		return nil
	}
	now := e.now()
	ttl := e.config.PasswordReset.TokenTTL
	err = e.resets.Save(ctx, token.ID, &stores.PasswordResetRecord{
		UserID:     user.ID,
		SecretHash: token.SecretHash(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}, ttl)
	if err != nil {
		e.log.Error("password reset store failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	e.notify(ctx, notify.Message{
		Kind:     notify.KindPasswordReset,
		Channels: []notify.Channel{notify.ChannelEmail},
		UserID:   user.ID,
		Email:    user.Email,
		Data: map[string]string{
			"resetUrl":  e.resetLink(token.String()),
			"expiresIn": ttl.String(),
		},
	})
	return nil
}

func (e *Engine) resetLink(token string) string {
	base := e.config.PasswordReset.ResetURL
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// ValidateResetToken reports whether token is still redeemable without
// consuming it or counting an attempt.
//
// Errors: ErrResetTokenInvalid, ErrStoreUnavailable.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) error {
	t, err := internal.ParseOpaqueToken(token)
	if err != nil {
		return ErrResetTokenInvalid
	}
	if _, err := e.resets.Peek(ctx, t.ID, t.SecretHash(), e.now()); err != nil {
		return resetError(err)
	}
	return nil
}

// ResetPassword redeems token and sets a new password. The account lock is
// cleared and every session of the user is revoked.
//
// Errors: *ValidationError, ErrResetTokenInvalid, ErrStoreUnavailable.
func (e *Engine) ResetPassword(ctx context.Context, token, next string) error {
	if msg := e.passwordProblem(next); msg != "" {
		return invalidField("password", msg)
	}
	t, err := internal.ParseOpaqueToken(token)
	if err != nil {
		return ErrResetTokenInvalid
	}

	record, err := e.resets.Consume(ctx, t.ID, t.SecretHash(), e.config.PasswordReset.MaxAttempts, e.now())
	if err != nil {
		return resetError(err)
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return storeUnavailable(err)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash, e.now()); err != nil {
		return storeUnavailable(err)
	}
	if err := e.users.ClearLockout(ctx, user.ID); err != nil {
		e.log.Warn("lockout reset failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	revoked, err := e.revokeAll(ctx, user.ID, "", reasonReset)
	if err != nil {
		e.log.Warn("session revocation after password reset failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.securityEvent(ctx, user.ID, audit.EventPasswordReset, "", map[string]string{
		"revokedSessions": itoa(revoked),
	})
	e.notify(ctx, notify.Message{
		Kind:     notify.KindPasswordChanged,
		Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
		UserID:   user.ID,
		Email:    user.Email,
	})
	return nil
}

func resetError(err error) error {
	switch {
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetSecretMismatch),
		errors.Is(err, stores.ErrResetAttemptsExceeded):
		return ErrResetTokenInvalid
	default:
		return storeUnavailable(err)
	}
}
