package spendauth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any failed email/password check,
	// whether or not the email exists.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthorized is returned when a request carries no usable credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired means the access or refresh token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid means the token is malformed, mis-signed or of the wrong type.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionInactive means the token's session was revoked or replaced.
	ErrSessionInactive = errors.New("session inactive")
	// ErrSessionExpired means the session reached its fixed expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound is returned when no session matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCannotRevokeCurrent rejects revoking the caller's own session.
	ErrCannotRevokeCurrent = errors.New("cannot revoke the current session, use logout")
	// ErrAccountLocked is matched by every *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrSessionTooNew is matched by every *AgeGateError.
	ErrSessionTooNew = errors.New("session too new for this action")
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("too many requests")
	// ErrForbidden is returned for an insufficient role.
	ErrForbidden = errors.New("forbidden")
	// ErrUserNotFound is returned by a UserStore when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by a UserStore on a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrSignupDisabled is returned while signup is switched off.
	ErrSignupDisabled = errors.New("signup disabled")
	// ErrMFARequired is returned by Login when a second factor must be supplied.
	ErrMFARequired = errors.New("mfa required")
	// ErrInvalidMFACode rejects a wrong TOTP or backup code.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFANotEnabled is returned when disabling MFA that is off.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAAlreadyEnabled is returned when setting up MFA twice.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFASetupExpired is returned when no pending enrollment exists.
	ErrMFASetupExpired = errors.New("mfa setup expired or not started")
	// ErrPasswordReuse rejects a new password equal to the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrResetTokenInvalid covers unknown, expired and consumed reset tokens.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	// ErrStoreUnavailable wraps backend failures on paths that cannot degrade.
	ErrStoreUnavailable = errors.New("service temporarily unavailable")
	// ErrEngineNotReady is returned when an Engine was not built by a Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError carries per-field input messages. Cause, when set, is
// the sentinel the rejection stands for and is matched by errors.Is.
type ValidationError struct {
	Fields map[string]string
	Cause  error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// rejectedField reports a wrong secret on an authenticated route. It is a
// bad input, not a failed session, and classifies as KindValidation.
func rejectedField(field, msg string, cause error) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}, Cause: cause}
}

// LockedError reports a locked account and when the lock lifts.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("Account is locked. Try again in %d minute(s)", e.RemainingMinutes())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RemainingMinutes rounds the remaining lock time up.
func (e *LockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int((e.Remaining + time.Minute - 1) / time.Minute)
}

// AgeGateError reports a session younger than the required age.
type AgeGateError struct {
	SessionAge  time.Duration
	RequiredAge time.Duration
}

func (e *AgeGateError) Error() string {
	return fmt.Sprintf("This action requires a session at least %d hours old. Current session age: %d hours",
		int(e.RequiredAge/time.Hour), int(e.SessionAge/time.Hour))
}

func (e *AgeGateError) Is(target error) bool { return target == ErrSessionTooNew }

// RateLimitError reports an exhausted limiter.
type RateLimitError struct {
	Limiter    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, retry after %ds", int(e.RetryAfter/time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Kind is the client-facing error class.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindNotFound
	KindConflict
	KindUnavailable
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &verr),
		errors.Is(err, ErrCannotRevokeCurrent),
		errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrMFASetupExpired),
		errors.Is(err, ErrResetTokenInvalid):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionInactive),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrInvalidMFACode),
		errors.Is(err, ErrMFARequired):
		return KindAuthentication
	case errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrSessionTooNew),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrSignupDisabled):
		return KindAuthorization
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmailTaken):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
