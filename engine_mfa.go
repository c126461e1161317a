package spendauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/internal/stores"
	"github.com/MrEthical07/spendauth/notify"
	"go.uber.org/zap"
)

/*
====================================
MFA ENROLLMENT
====================================
*/

// SetupMFA starts a TOTP enrollment. The secret and backup codes are
// returned once and held pending until [Engine.VerifyMFA] confirms a code.
// Calling it again replaces any pending enrollment.
//
// Errors: ErrMFAAlreadyEnabled, ErrStoreUnavailable.
func (e *Engine) SetupMFA(ctx context.Context, auth *AuthResult) (*MFASetup, error) {
	user, err := e.currentUser(ctx, auth)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	enrollment, err := e.mfa.Enroll(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	err = e.enrollments.Save(ctx, user.ID, &stores.MFAEnrollment{
		Secret:       enrollment.Secret,
		BackupHashes: enrollment.BackupHashes,
		CreatedAt:    e.now().Unix(),
	}, e.config.MFA.EnrollmentTTL)
	if err != nil {
		return nil, storeUnavailable(err)
	}

	e.metrics.mfaResult("setup", true)
	return &MFASetup{
		Secret:      enrollment.Secret,
		OTPAuthURL:  enrollment.URL,
		BackupCodes: enrollment.BackupCodes,
	}, nil
}

// VerifyMFA confirms a pending enrollment with a code from the
// authenticator and turns MFA on.
//
// Errors: *ValidationError (wrapping ErrInvalidMFACode for a wrong code),
// ErrMFAAlreadyEnabled, ErrMFASetupExpired, ErrStoreUnavailable.
func (e *Engine) VerifyMFA(ctx context.Context, auth *AuthResult, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return invalidField("code", "Verification code is required")
	}

	user, err := e.currentUser(ctx, auth)
	if err != nil {
		return err
	}
	if user.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}

	pending, err := e.enrollments.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, stores.ErrEnrollmentNotFound) {
			return ErrMFASetupExpired
		}
		return storeUnavailable(err)
	}

	ok, err := e.mfa.VerifyTOTP(pending.Secret, code)
	if err != nil || !ok {
		e.metrics.mfaResult("verify", false)
		return rejectedField("code", "Invalid verification code", ErrInvalidMFACode)
	}

	if err := e.users.EnableMFA(ctx, user.ID, pending.Secret, pending.BackupHashes); err != nil {
		return storeUnavailable(err)
	}
	if err := e.enrollments.Delete(ctx, user.ID); err != nil {
		e.log.Warn("mfa enrollment cleanup failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metrics.mfaResult("verify", true)
	e.securityEvent(ctx, user.ID, audit.EventMFAEnabled, auth.SessionID, nil)
	e.notify(ctx, notify.Message{
		Kind:     notify.KindMFAEnabled,
		Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
		UserID:   user.ID,
		Email:    user.Email,
	})
	return nil
}

// DisableMFA turns MFA off after re-checking the password, then revokes
// every other session of the user.
//
// Errors: *ValidationError (wrapping ErrInvalidCredentials for a wrong
// password), *AgeGateError, ErrMFANotEnabled, ErrStoreUnavailable.
func (e *Engine) DisableMFA(ctx context.Context, auth *AuthResult, password string) error {
	if password == "" {
		return invalidField("password", "Password is required")
	}
	if err := e.requireSessionAge(ctx, auth); err != nil {
		return err
	}

	user, err := e.currentUser(ctx, auth)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	if ok, _ := e.hasher.Verify(password, user.PasswordHash); !ok {
		e.metrics.mfaResult("disable", false)
		return rejectedField("password", "Password is incorrect", ErrInvalidCredentials)
	}

	if err := e.users.DisableMFA(ctx, user.ID); err != nil {
		return storeUnavailable(err)
	}
	revoked, err := e.revokeAll(ctx, user.ID, auth.SessionID, reasonMFA)
	if err != nil {
		e.log.Warn("session revocation after mfa disable failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metrics.mfaResult("disable", true)
	e.securityEvent(ctx, user.ID, audit.EventMFADisabled, auth.SessionID, map[string]string{
		"revokedSessions": itoa(revoked),
	})
	e.notify(ctx, notify.Message{
		Kind:     notify.KindMFADisabled,
		Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
		UserID:   user.ID,
		Email:    user.Email,
	})
	return nil
}

// currentUser loads the authenticated user. A missing record means the
// account is gone and the session no longer counts.
func (e *Engine) currentUser(ctx context.Context, auth *AuthResult) (*User, error) {
	u, err := e.users.GetUserByID(ctx, auth.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionInactive
		}
		return nil, storeUnavailable(err)
	}
	return u, nil
}
