package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/spendauth/internal/limiters"
	"github.com/MrEthical07/spendauth/jwt"
	"github.com/MrEthical07/spendauth/mfa"
	"github.com/MrEthical07/spendauth/session"
)

// LoginFailureKind classifies login flow failures.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidCredentials
	LoginFailureLocked
	LoginFailureMFARequired
	LoginFailureInvalidMFA
	LoginFailureStore
	LoginFailureIssue
)

// LoginUserRecord is the flow-local user model.
type LoginUserRecord struct {
	UserID         string
	Email          string
	Role           string
	PasswordHash   string
	MFAEnabled     bool
	MFASecret      string
	FailedAttempts int
	Locked         bool
	LockedUntil    time.Time
}

// LoginRequest carries credentials plus the presenting client's context.
type LoginRequest struct {
	Email      string
	Password   string
	MFACode    string
	RememberMe bool
	Device     session.Device
	Location   *session.Location
}

// LoginResult is the outcome of one login attempt.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	// User is set once the email resolved to an account.
	User *LoginUserRecord
	// Verdict is set when the lockout policy decided the outcome.
	Verdict limiters.Verdict
	// LockedNow is set when this attempt tripped the lock.
	LockedNow  bool
	UsedBackup bool
	Rehashed   bool
	Session    *session.Session
	Replaced   []*session.Session
	Pair       jwt.Pair
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Now             func() time.Time
	SessionLifetime func(rememberMe bool) time.Duration
	NewSessionID    func() string

	GetUserByEmail     func(context.Context, string) (LoginUserRecord, error)
	ErrUserNotFound    error
	VerifyPassword     func(password, encoded string) (bool, error)
	VerifyDummy        func(password string)
	NeedsRehash        func(encoded string) bool
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(context.Context, string, string) error

	Lockout *limiters.LockoutPolicy

	VerifyTOTP        func(secret, code string) (bool, error)
	ConsumeBackupCode func(ctx context.Context, userID, code string) (bool, error)

	IssuePair    func(jwt.Identity) (jwt.Pair, error)
	SessionStore interface {
		Create(ctx context.Context, s *session.Session) error
		InvalidateSameDevice(ctx context.Context, next *session.Session) ([]*session.Session, error)
	}

	Warn func(msg string, err error, userID string)
}

// RunLogin checks credentials, lockout and the second factor, then replaces
// any same-device session with a freshly issued one.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	if deps.Warn == nil {
		deps.Warn = func(string, error, string) {}
	}

	user, err := deps.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if deps.ErrUserNotFound != nil && errors.Is(err, deps.ErrUserNotFound) {
			if deps.VerifyDummy != nil {
				deps.VerifyDummy(req.Password)
			}
			return LoginResult{Failure: LoginFailureInvalidCredentials}
		}
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}

	state := limiters.LockoutState{
		FailedAttempts: user.FailedAttempts,
		Locked:         user.Locked,
		LockedUntil:    user.LockedUntil,
	}
	verdict, err := deps.Lockout.Check(ctx, user.UserID, state)
	if err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err, User: &user}
	}
	if verdict.Locked {
		return LoginResult{Failure: LoginFailureLocked, User: &user, Verdict: verdict}
	}
	if verdict.Unlocked {
		state = limiters.LockoutState{}
	}

	ok, err := deps.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		verdict, _, lerr := deps.Lockout.RecordFailure(ctx, user.UserID)
		if lerr != nil {
			deps.Warn("record failed login", lerr, user.UserID)
		}
		if verdict.Locked {
			return LoginResult{Failure: LoginFailureLocked, User: &user, Verdict: verdict, LockedNow: true}
		}
		return LoginResult{Failure: LoginFailureInvalidCredentials, User: &user}
	}

	res := LoginResult{User: &user}
	if user.MFAEnabled {
		switch mfa.Classify(req.MFACode) {
		case mfa.KindTOTP:
			valid, err := deps.VerifyTOTP(user.MFASecret, req.MFACode)
			if err != nil || !valid {
				return LoginResult{Failure: LoginFailureInvalidMFA, User: &user}
			}
		case mfa.KindBackup:
			used, err := deps.ConsumeBackupCode(ctx, user.UserID, req.MFACode)
			if err != nil {
				return LoginResult{Failure: LoginFailureStore, Err: err, User: &user}
			}
			if !used {
				return LoginResult{Failure: LoginFailureInvalidMFA, User: &user}
			}
			res.UsedBackup = true
		default:
			if req.MFACode == "" {
				return LoginResult{Failure: LoginFailureMFARequired, User: &user}
			}
			return LoginResult{Failure: LoginFailureInvalidMFA, User: &user}
		}
	}

	if err := deps.Lockout.RecordSuccess(ctx, user.UserID, state); err != nil {
		deps.Warn("reset failed login counter", err, user.UserID)
	}

	if deps.NeedsRehash != nil && deps.NeedsRehash(user.PasswordHash) {
		if upgraded, err := deps.HashPassword(req.Password); err == nil {
			if err := deps.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
				deps.Warn("password hash upgrade", err, user.UserID)
			} else {
				res.Rehashed = true
			}
		}
	}

	opened, err := OpenSession(ctx, OpenSessionRequest{
		Identity: jwt.Identity{
			UserID:     user.UserID,
			Email:      user.Email,
			Role:       user.Role,
			RememberMe: req.RememberMe,
		},
		Device:   req.Device,
		Location: req.Location,
	}, deps)
	if err != nil {
		if errors.Is(err, errIssue) {
			return LoginResult{Failure: LoginFailureIssue, Err: err, User: &user}
		}
		return LoginResult{Failure: LoginFailureStore, Err: err, User: &user}
	}

	res.Session = opened.Session
	res.Replaced = opened.Replaced
	res.Pair = opened.Pair
	return res
}

var errIssue = errors.New("token issue failed")

// OpenSessionRequest describes a session to open for an authenticated user.
type OpenSessionRequest struct {
	Identity jwt.Identity
	Device   session.Device
	Location *session.Location
}

// OpenSessionResult is the session opened for an authenticated user and the
// same-device sessions it replaced.
type OpenSessionResult struct {
	Session  *session.Session
	Replaced []*session.Session
	Pair     jwt.Pair
}

// OpenSession issues a pair, invalidates same-device sessions and persists the
// new session with a fixed expiry. Signup reuses it after creating the user.
func OpenSession(ctx context.Context, req OpenSessionRequest, deps LoginDeps) (OpenSessionResult, error) {
	pair, err := deps.IssuePair(req.Identity)
	if err != nil {
		return OpenSessionResult{}, errors.Join(errIssue, err)
	}

	uid, err := session.ParseUserID(req.Identity.UserID)
	if err != nil {
		return OpenSessionResult{}, err
	}

	now := deps.Now()
	expires := now.Add(deps.SessionLifetime(req.Identity.RememberMe))
	sess := &session.Session{
		ID:                deps.NewSessionID(),
		UserID:            uid,
		Device:            req.Device,
		Location:          req.Location,
		IsActive:          true,
		RememberMe:        req.Identity.RememberMe,
		Policy:            session.PolicyFixed,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         expires,
		OriginalExpiresAt: expires,
	}
	sess.BindTokens(pair.AccessToken, pair.RefreshToken)

	replaced, err := deps.SessionStore.InvalidateSameDevice(ctx, sess)
	if err != nil {
		return OpenSessionResult{}, err
	}
	if err := deps.SessionStore.Create(ctx, sess); err != nil {
		return OpenSessionResult{}, err
	}
	return OpenSessionResult{Session: sess, Replaced: replaced, Pair: pair}, nil
}
