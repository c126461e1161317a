package spendauth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config holds every tunable of the authentication engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	MFA           MFAConfig
	Security      SecurityConfig
	Signup        SignupConfig
	PasswordReset PasswordResetConfig
	Cookie        CookieConfig
	Audit         AuditConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. Access and refresh tokens use
// separate secrets.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Leeway        time.Duration

	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RememberedAccessTTL  time.Duration
	RememberedRefreshTTL time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// StaleRefreshFallback values.
const (
	StaleRefreshOff         = "off"
	StaleRefreshDeviceMatch = "device_match"
	StaleRefreshAny         = "any"
)

// SessionConfig configures session persistence and refresh recovery.
type SessionConfig struct {
	RedisPrefix        string
	Lifetime           time.Duration
	RememberedLifetime time.Duration

	// RefreshRecentWindow is how far back a concurrently rotated session
	// may be adopted by a refresh presenting its previous token.
	RefreshRecentWindow time.Duration
	// RecentRefreshDeviceMatch limits that adoption to sessions whose
	// device matches the presenting client.
	RecentRefreshDeviceMatch bool
	StaleRefreshFallback     string
	MaxRefreshAttempts       int

	TouchInterval time.Duration
	TouchWorkers  int
	TouchBuffer   int
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig configures the session validation cache. Shared moves it to
// Redis so several instances see the same entries and evictions.
type CacheConfig struct {
	Enabled        bool
	Shared         bool
	RedisPrefix    string
	TTL            time.Duration
	SweepThreshold int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is one fixed-window limit.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig configures the per-IP limiters.
type RateLimitConfig struct {
	Enabled     bool
	Shared      bool
	RedisPrefix string

	Login         RateRule
	Signup        RateRule
	PasswordReset RateRule
	Me            RateRule
}

// LockoutConfig configures automatic account lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// MFAConfig configures TOTP enrollment.
type MFAConfig struct {
	Issuer          string
	Skew            uint
	BackupCodeCount int
	EnrollmentTTL   time.Duration
	RedisPrefix     string
}

// SecurityConfig groups credential and sensitive-action policy.
type SecurityConfig struct {
	BcryptCost        int
	MinPasswordLength int
	// MinSessionAge gates revoke, MFA disable, password and email changes.
	MinSessionAge time.Duration
}

// SignupConfig gates self-service account creation.
type SignupConfig struct {
	Enabled     bool
	DefaultRole string
}

// PasswordResetConfig configures token-based password recovery.
type PasswordResetConfig struct {
	Enabled     bool
	TokenTTL    time.Duration
	MaxAttempts int
	RedisPrefix string
	// ResetURL is the page the emailed link points at; the token is appended
	// as the "token" query parameter.
	ResetURL string
}

// CookieConfig configures the auth cookies.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Domain      string
	Path        string
	Secure      bool
	SameSite    http.SameSite
}

// AuditConfig configures asynchronous login-history and security-log writes.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// DefaultConfig returns production defaults. Secrets are left empty and must
// be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:               "spendauth",
			Leeway:               60 * time.Second,
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			RememberedAccessTTL:  7 * 24 * time.Hour,
			RememberedRefreshTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:              "ss",
			Lifetime:                 7 * 24 * time.Hour,
			RememberedLifetime:       30 * 24 * time.Hour,
			RefreshRecentWindow:      5 * time.Minute,
			RecentRefreshDeviceMatch: true,
			StaleRefreshFallback:     StaleRefreshDeviceMatch,
			MaxRefreshAttempts:       3,
			TouchInterval:            60 * time.Second,
			TouchWorkers:             2,
			TouchBuffer:              512,
		},
		Cache: CacheConfig{
			Enabled:        true,
			RedisPrefix:    "sc",
			TTL:            10 * time.Second,
			SweepThreshold: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RedisPrefix:   "rl",
			Login:         RateRule{Limit: 5, Window: time.Minute},
			Signup:        RateRule{Limit: 5, Window: time.Hour},
			PasswordReset: RateRule{Limit: 3, Window: time.Hour},
			Me:            RateRule{Limit: 30, Window: time.Minute},
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		MFA: MFAConfig{
			Issuer:          "Spendwise",
			Skew:            1,
			BackupCodeCount: 10,
			EnrollmentTTL:   15 * time.Minute,
			RedisPrefix:     "sme",
		},
		Security: SecurityConfig{
			BcryptCost:        12,
			MinPasswordLength: 8,
			MinSessionAge:     24 * time.Hour,
		},
		Signup: SignupConfig{
			Enabled:     true,
			DefaultRole: "user",
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			TokenTTL:    time.Hour,
			MaxAttempts: 5,
			RedisPrefix: "spr",
		},
		Cookie: CookieConfig{
			AccessName:  "accessToken",
			RefreshName: "refreshToken",
			Path:        "/",
			Secure:      true,
			SameSite:    http.SameSiteLaxMode,
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 2 * time.Second,
		},
	}
}

// LifetimeFor returns the session (and refresh cookie) lifetime for the
// remember-me choice.
func (c Config) LifetimeFor(rememberMe bool) time.Duration {
	if rememberMe {
		return c.Session.RememberedLifetime
	}
	return c.Session.Lifetime
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT AccessSecret and RefreshSecret are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 ||
		c.JWT.RememberedAccessTTL <= 0 || c.JWT.RememberedRefreshTTL <= 0 {
		return errors.New("JWT token lifetimes must be > 0")
	}
	if c.JWT.AccessTTL > c.JWT.RefreshTTL || c.JWT.RememberedAccessTTL > c.JWT.RememberedRefreshTTL {
		return errors.New("JWT access lifetime must not exceed refresh lifetime")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 5*time.Minute {
		return errors.New("JWT Leeway must be within 0..5m")
	}

	// Session
	if c.Session.Lifetime <= 0 || c.Session.RememberedLifetime <= 0 {
		return errors.New("Session lifetimes must be > 0")
	}
	if c.Session.RefreshRecentWindow < 0 {
		return errors.New("Session RefreshRecentWindow must be >= 0")
	}
	switch strings.ToLower(c.Session.StaleRefreshFallback) {
	case StaleRefreshOff, StaleRefreshDeviceMatch, StaleRefreshAny:
	default:
		return errors.New("Session StaleRefreshFallback must be off, device_match or any")
	}
	if c.Session.TouchInterval < 0 {
		return errors.New("Session TouchInterval must be >= 0")
	}

	// Cache
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("Cache TTL must be > 0")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		for name, r := range map[string]RateRule{
			"Login":         c.RateLimit.Login,
			"Signup":        c.RateLimit.Signup,
			"PasswordReset": c.RateLimit.PasswordReset,
			"Me":            c.RateLimit.Me,
		} {
			if r.Limit <= 0 || r.Window <= 0 {
				return errors.New("RateLimit " + name + " requires Limit and Window > 0")
			}
		}
	}

	// Lockout
	if c.Lockout.Enabled && (c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0) {
		return errors.New("Lockout Threshold and Duration must be > 0")
	}

	// MFA
	if c.MFA.BackupCodeCount <= 0 || c.MFA.EnrollmentTTL <= 0 {
		return errors.New("MFA BackupCodeCount and EnrollmentTTL must be > 0")
	}

	// Security
	if c.Security.BcryptCost < 0 {
		return errors.New("Security BcryptCost must be >= 0")
	}
	if c.Security.MinPasswordLength < 8 {
		return errors.New("Security MinPasswordLength must be >= 8")
	}
	if c.Security.MinSessionAge < 0 {
		return errors.New("Security MinSessionAge must be >= 0")
	}

	// Password reset
	if c.PasswordReset.Enabled && (c.PasswordReset.TokenTTL <= 0 || c.PasswordReset.MaxAttempts <= 0) {
		return errors.New("PasswordReset TokenTTL and MaxAttempts must be > 0")
	}

	// Cookies
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" {
		return errors.New("Cookie names are required")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
