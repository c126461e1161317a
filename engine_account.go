package spendauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/notify"
	"go.uber.org/zap"
)

/*
====================================
PASSWORD CHANGE
====================================
*/

// ChangePassword replaces the caller's password after checking the current
// one. Every other session of the user is revoked and the lockout counter
// is cleared.
//
// Errors: *ValidationError (wrapping ErrInvalidCredentials for a wrong
// current password), *AgeGateError, ErrPasswordReuse, ErrStoreUnavailable.
func (e *Engine) ChangePassword(ctx context.Context, auth *AuthResult, current, next string) error {
	fields := map[string]string{}
	if current == "" {
		fields["currentPassword"] = "Current password is required"
	}
	if msg := e.passwordProblem(next); msg != "" {
		fields["newPassword"] = msg
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	if err := e.requireSessionAge(ctx, auth); err != nil {
		return err
	}

	user, err := e.currentUser(ctx, auth)
	if err != nil {
		return err
	}
	if ok, _ := e.hasher.Verify(current, user.PasswordHash); !ok {
		return rejectedField("currentPassword", "Current password is incorrect", ErrInvalidCredentials)
	}
	if current == next {
		return ErrPasswordReuse
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

	revoked, err := e.revokeAll(ctx, user.ID, auth.SessionID, reasonPassword)
	if err != nil {
		e.log.Warn("session revocation after password change failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.securityEvent(ctx, user.ID, audit.EventPasswordChanged, auth.SessionID, map[string]string{
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

/*
====================================
PROFILE
====================================
*/

// UpdateProfile applies changes to the caller's profile. Changing the email
// is a sensitive action: it passes the session age gate and clears the
// verified flag.
//
// Errors: *ValidationError, *AgeGateError, ErrEmailTaken,
// ErrStoreUnavailable.
func (e *Engine) UpdateProfile(ctx context.Context, auth *AuthResult, changes ProfileChanges) (*UserView, error) {
	fields := map[string]string{}
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" || len(name) > 100 {
			fields["name"] = "Name must be between 1 and 100 characters"
		}
		changes.Name = &name
	}
	if changes.Email != nil {
		email := normalizeEmail(*changes.Email)
		if !strings.Contains(email, "@") {
			fields["email"] = "A valid email is required"
		}
		changes.Email = &email
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	user, err := e.currentUser(ctx, auth)
	if err != nil {
		return nil, err
	}
	if changes.Email != nil && *changes.Email == user.Email {
		changes.Email = nil
	}
	if changes.Name == nil && changes.Email == nil {
		return viewOf(user), nil
	}
	if changes.Email != nil {
		if err := e.requireSessionAge(ctx, auth); err != nil {
			return nil, err
		}
	}

	if err := e.users.UpdateProfile(ctx, user.ID, changes, e.now()); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, storeUnavailable(err)
	}

	if changes.Email != nil {
		e.securityEvent(ctx, user.ID, audit.EventEmailChanged, auth.SessionID, nil)
		e.notify(ctx, notify.Message{
			Kind:     notify.KindEmailChanged,
			Channels: []notify.Channel{notify.ChannelEmail},
			UserID:   user.ID,
			Email:    user.Email,
			Data:     map[string]string{"newEmail": *changes.Email},
		})
	}

	updated, err := e.users.GetUserByID(ctx, user.ID)
	if err != nil {
		e.log.Warn("profile reload failed", zap.String("user_id", user.ID), zap.Error(err))
		if changes.Name != nil {
			user.Name = *changes.Name
		}
		if changes.Email != nil {
			user.Email = *changes.Email
			user.EmailVerified = false
		}
		return viewOf(user), nil
	}
	return viewOf(updated), nil
}
