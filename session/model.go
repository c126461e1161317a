package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// UserID identifies the owner of a session. Stores persist it as a plain
// string and convert to their native key type at their own boundary.
type UserID string

// ErrInvalidUserID is returned by [ParseUserID] for blank input.
var ErrInvalidUserID = errors.New("invalid user id")

// ParseUserID validates and normalizes a user id read from a token or request.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidUserID
	}
	return UserID(raw), nil
}

func (id UserID) String() string { return string(id) }

// ExpiryPolicy decides what a refresh does to a session's expiry.
type ExpiryPolicy uint8

const (
	// PolicyFixed keeps ExpiresAt at its creation value for the session's
	// whole life. Refresh never extends it.
	PolicyFixed ExpiryPolicy = iota
	// PolicySliding extends ExpiresAt by the profile lifetime on every
	// refresh.
	//
	// Deprecated: superseded by PolicyFixed. Kept so older records decode.
	PolicySliding
)

func (p ExpiryPolicy) String() string {
	if p == PolicySliding {
		return "sliding"
	}
	return "fixed"
}

// NextExpiry returns the ExpiresAt a session should carry after a refresh at
// now with the given profile lifetime.
func (p ExpiryPolicy) NextExpiry(s *Session, now time.Time, lifetime time.Duration) time.Time {
	if p == PolicySliding {
		return now.Add(lifetime)
	}
	return s.ExpiresAt
}

// Deadline is the instant after which the session may no longer be refreshed.
func (p ExpiryPolicy) Deadline(s *Session) time.Time {
	if p == PolicySliding || s.OriginalExpiresAt.IsZero() {
		return s.ExpiresAt
	}
	return s.OriginalExpiresAt
}

// Device classes reported in [Device.DeviceType].
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Device describes the client a session was opened from.
type Device struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"deviceType"`
}

// SameAs reports whether two descriptors name the same browser on the same
// OS. Device class is ignored.
func (d Device) SameAs(o Device) bool {
	return strings.EqualFold(d.Browser, o.Browser) && strings.EqualFold(d.OS, o.OS)
}

// Location is the coarse geolocation reported by the edge proxy.
type Location struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Session is one logical device login.
type Session struct {
	ID     string `json:"id"`
	UserID UserID `json:"userId"`

	AccessTokenHash  string `json:"accessTokenHash"`
	RefreshTokenHash string `json:"refreshTokenHash"`

	Device   Device    `json:"device"`
	Location *Location `json:"location,omitempty"`

	IsActive   bool         `json:"isActive"`
	RememberMe bool         `json:"rememberMe"`
	Policy     ExpiryPolicy `json:"policy"`

	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	OriginalExpiresAt time.Time `json:"originalExpiresAt"`

	ReplacedBy   string     `json:"replacedBy,omitempty"`
	ReplacedAt   *time.Time `json:"replacedAt,omitempty"`
	LoggedOutAt  *time.Time `json:"loggedOutAt,omitempty"`
	LogoutReason string     `json:"logoutReason,omitempty"`
}

// BindTokens records the digests of a freshly issued pair.
func (s *Session) BindTokens(accessToken, refreshToken string) {
	s.AccessTokenHash = HashToken(accessToken)
	s.RefreshTokenHash = HashToken(refreshToken)
}

// Expired reports whether now is at or past ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Usable reports whether the session is active and unexpired.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.ReplacedAt != nil {
		t := *s.ReplacedAt
		c.ReplacedAt = &t
	}
	if s.LoggedOutAt != nil {
		t := *s.LoggedOutAt
		c.LoggedOutAt = &t
	}
	return &c
}

// HashToken returns the hex SHA-256 digest stores use in place of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
