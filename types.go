package spendauth

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/session"
)

// User is the identity record the engine reads and mutates through a
// [UserStore]. Email is stored case-folded.
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          string
	EmailVerified bool

	MFAEnabled       bool
	MFASecret        string
	BackupCodeHashes []string

	AccountLocked       bool
	LockedUntil         time.Time
	LockReason          string
	FailedLoginAttempts int

	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProfileChanges is a partial profile update. Nil fields are left alone.
type ProfileChanges struct {
	Name  *string
	Email *string
}

// UserStore is the document-store boundary for user records. Every method
// must be atomic for a single user.
//
// GetUserByEmail and GetUserByID return [ErrUserNotFound] when nothing
// matches; CreateUser and UpdateProfile return [ErrEmailTaken] on a
// duplicate email. ConsumeBackupCode removes the matching hash and reports
// whether one was removed.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, changes ProfileChanges, at time.Time) error

	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	LockAccount(ctx context.Context, id string, until time.Time, reason string) error
	ClearLockout(ctx context.Context, id string) error

	EnableMFA(ctx context.Context, id, secret string, backupCodeHashes []string) error
	DisableMFA(ctx context.Context, id string) error
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)

	Ping(ctx context.Context) error
}

// LoginHistoryEntry is one recorded login attempt.
type LoginHistoryEntry = internalaudit.LoginHistoryEntry

// SecurityLogEntry is one recorded security event.
type SecurityLogEntry = internalaudit.SecurityLogEntry

// AuditDevice is the device descriptor stored on audit entries.
type AuditDevice = internalaudit.Device

// AuditRecorder persists login history and security log entries.
type AuditRecorder = internalaudit.Recorder

// LoginRequest is the body of a login attempt.
type LoginRequest struct {
	Email      string
	Password   string
	MFACode    string
	RememberMe bool
}

// SignupRequest is the body of an account creation.
type SignupRequest struct {
	Email      string
	Password   string
	Name       string
	RememberMe bool
}

// TokenPair is an issued access/refresh pair with the cookie lifetime of
// the refresh side.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RememberMe       bool
	// CookieMaxAge is the refresh-token lifetime of the profile in use.
	CookieMaxAge time.Duration
}

// LoginResult is returned by a successful [Engine.Login] or [Engine.Signup].
type LoginResult struct {
	User      *UserView
	SessionID string
	Tokens    TokenPair
}

// RefreshResult is returned by [Engine.Refresh].
type RefreshResult struct {
	UserID    string
	SessionID string
	Tokens    TokenPair
}

// UserView is the client-safe projection of a [User].
type UserView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	MFAEnabled    bool   `json:"mfaEnabled"`
}

func viewOf(u *User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
	}
}

// AuthResult identifies an authenticated request.
type AuthResult struct {
	UserID     string
	Email      string
	Role       string
	RememberMe bool
	SessionID  string
	// AccessToken is the credential that authenticated the request. Sensitive
	// operations look its session up again for the age gate.
	AccessToken string
	// Degraded is set when the session store was unreachable and only the
	// token signature was checked.
	Degraded bool
	CacheHit bool
}

// SessionView is the client-facing projection of a session.
type SessionView struct {
	ID             string            `json:"id"`
	Device         session.Device    `json:"device"`
	Location       *session.Location `json:"location,omitempty"`
	RememberMe     bool              `json:"rememberMe"`
	Current        bool              `json:"current"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
}

// AgeCheck is the outcome of the session age gate.
type AgeCheck struct {
	IsValid     bool
	Message     string
	SessionAge  time.Duration
	RequiredAge time.Duration
}

// Err returns nil for a passing check and an *AgeGateError otherwise.
func (c AgeCheck) Err() error {
	if c.IsValid {
		return nil
	}
	return &AgeGateError{SessionAge: c.SessionAge, RequiredAge: c.RequiredAge}
}

// MFASetup is a pending TOTP enrollment shown to the user once.
type MFASetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauthUrl"`
	BackupCodes []string `json:"backupCodes"`
}

// ClientInfo describes the caller of an operation. It is attached to the
// request context by the HTTP layer.
type ClientInfo struct {
	IP        string
	UserAgent string
	Device    session.Device
	Location  *session.Location
}
