package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session matches a lookup.
	ErrNotFound = errors.New("session not found")
	// ErrTokenMismatch is returned by Rotate when the stored refresh token
	// no longer matches the expected one (another rotation won).
	ErrTokenMismatch = errors.New("session refresh token mismatch")
	// ErrInactive is returned when a mutation targets a revoked session.
	ErrInactive = errors.New("session inactive")
	// ErrUnavailable wraps backend failures. Callers test with errors.Is.
	ErrUnavailable = errors.New("session store unavailable")
)

// Rotation describes a token rotation applied by [Store.Rotate].
type Rotation struct {
	// ExpectedRefreshHash is the digest the session must still carry for the
	// rotation to apply.
	ExpectedRefreshHash string
	AccessToken         string
	RefreshToken        string
	At                  time.Time
	// ExpiresAt is the expiry after rotation. Under PolicyFixed callers pass
	// the session's current ExpiresAt.
	ExpiresAt time.Time
}

// Store is the authoritative session record set. All mutations are scoped
// to a single session record and are atomic per record.
type Store interface {
	// Create inserts a new active session.
	Create(ctx context.Context, s *Session) error
	// InvalidateSameDevice deactivates every other active session of
	// next.UserID whose device matches next.Device, linking them to next.ID.
	InvalidateSameDevice(ctx context.Context, next *Session) ([]*Session, error)

	Get(ctx context.Context, id string) (*Session, error)
	// FindByAccessToken returns the session currently bound to the token,
	// active or not.
	FindByAccessToken(ctx context.Context, accessToken string) (*Session, error)
	// FindActiveByRefreshToken matches (userID, refresh token, active).
	FindActiveByRefreshToken(ctx context.Context, userID UserID, refreshToken string) (*Session, error)
	// FindRecentlyUpdated returns the most recently updated active,
	// unexpired session of userID updated at or after since.
	FindRecentlyUpdated(ctx context.Context, userID UserID, since, now time.Time) (*Session, error)
	// FindAnyActive returns the most recently updated active, unexpired
	// session of userID.
	FindAnyActive(ctx context.Context, userID UserID, now time.Time) (*Session, error)
	// ListActive returns active, unexpired sessions newest first.
	ListActive(ctx context.Context, userID UserID, now time.Time) ([]*Session, error)

	// Rotate swaps the token pair if the session is active and still carries
	// r.ExpectedRefreshHash.
	Rotate(ctx context.Context, id string, r Rotation) (*Session, error)
	// Touch sets LastActivityAt. Missing or inactive sessions are ignored.
	Touch(ctx context.Context, id string, at time.Time) error
	// Deactivate revokes one session and returns its final state. Revoking
	// an inactive session is a no-op that still returns the record.
	Deactivate(ctx context.Context, id, reason string, at time.Time) (*Session, error)
	// DeactivateAll revokes every active session of userID except exceptID.
	DeactivateAll(ctx context.Context, userID UserID, exceptID, reason string, at time.Time) ([]*Session, error)

	Ping(ctx context.Context) error
}
