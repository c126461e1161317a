package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType marks which half of a pair a token is.
type TokenType string

const (
	// TypeAccess marks short-lived request credentials.
	TypeAccess TokenType = "access"
	// TypeRefresh marks tokens that may only be exchanged for a new pair.
	TypeRefresh TokenType = "refresh"
)

// Status is the outcome of verifying a token.
type Status int

const (
	// StatusValid means signature, type and expiry all checked out.
	StatusValid Status = iota
	// StatusExpired means the signature is good but the token is past its
	// expiry plus leeway.
	StatusExpired
	// StatusInvalid covers every other failure: bad signature, malformed
	// input, wrong type or missing subject.
	StatusInvalid
)

// String returns a label suitable for logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Profile is a pair of token lifetimes chosen once at issuance.
type Profile struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Config configures a [Manager].
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	// Leeway absorbs clock skew between hosts when checking exp/nbf/iat.
	Leeway time.Duration

	Standard   Profile
	Remembered Profile

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns lifetimes of 15m/7d for standard sessions and
// 7d/30d for remembered ones with a 60s leeway. Secrets are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:     "spendauth",
		Leeway:     60 * time.Second,
		Standard:   Profile{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		Remembered: Profile{AccessTTL: 7 * 24 * time.Hour, RefreshTTL: 30 * 24 * time.Hour},
	}
}

// Identity is the payload bound into both tokens of a pair.
type Identity struct {
	UserID     string
	Email      string
	Role       string
	RememberMe bool
}

// Claims is the JWT body for both token types.
type Claims struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Role       string    `json:"role,omitempty"`
	RememberMe bool      `json:"rememberMe,omitempty"`
	Type       TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Identity extracts the issuance payload from verified claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role, RememberMe: c.RememberMe}
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RememberMe       bool
}

// Manager signs and verifies token pairs. It is immutable after construction
// and safe for concurrent use.
type Manager struct {
	config Config
}

var (
	errMissingSecret   = errors.New("jwt: access and refresh secrets are required")
	errSharedSecret    = errors.New("jwt: access and refresh secrets must differ")
	errInvalidLeeway   = errors.New("jwt: invalid leeway configuration")
	errInvalidLifetime = errors.New("jwt: invalid token lifetime configuration")
)

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errMissingSecret
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errSharedSecret
	}
	if cfg.Leeway < 0 || cfg.Leeway > 5*time.Minute {
		return nil, errInvalidLeeway
	}
	for _, p := range []Profile{cfg.Standard, cfg.Remembered} {
		if p.AccessTTL <= 0 || p.RefreshTTL <= 0 || p.AccessTTL > p.RefreshTTL {
			return nil, errInvalidLifetime
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// ProfileFor returns the lifetime profile for the remember-me choice.
func (m *Manager) ProfileFor(rememberMe bool) Profile {
	if rememberMe {
		return m.config.Remembered
	}
	return m.config.Standard
}

// IssuePair signs a new access/refresh pair for id. The remember-me flag is
// carried as a claim so a later refresh can keep the same profile.
func (m *Manager) IssuePair(id Identity) (Pair, error) {
	now := m.config.Now()
	profile := m.ProfileFor(id.RememberMe)

	accessExp := now.Add(profile.AccessTTL)
	access, err := m.sign(id, TypeAccess, now, accessExp, m.config.AccessSecret)
	if err != nil {
		return Pair{}, err
	}

	refreshExp := now.Add(profile.RefreshTTL)
	refresh, err := m.sign(id, TypeRefresh, now, refreshExp, m.config.RefreshSecret)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RememberMe:       id.RememberMe,
	}, nil
}

// VerifyAccess checks an access token. Claims are returned for StatusValid
// and StatusExpired so callers can still identify the subject of an expired
// token; they are nil for StatusInvalid.
func (m *Manager) VerifyAccess(token string) (*Claims, Status) {
	return m.verify(token, TypeAccess, m.config.AccessSecret)
}

// VerifyRefresh checks a refresh token, including its type=refresh marker so
// an access token cannot be replayed on the refresh path.
func (m *Manager) VerifyRefresh(token string) (*Claims, Status) {
	return m.verify(token, TypeRefresh, m.config.RefreshSecret)
}

func (m *Manager) sign(id Identity, typ TokenType, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		UserID:     id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		RememberMe: id.RememberMe,
		Type:       typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) verify(token string, want TokenType, secret []byte) (*Claims, Status) {
	if token == "" {
		return nil, StatusInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		// The parser checks the signature before claims, so an expiry error
		// implies an authentic token.
		if errors.Is(err, jwt.ErrTokenExpired) && claims.Type == want && claims.UserID != "" {
			return claims, StatusExpired
		}
		return nil, StatusInvalid
	}
	if !parsed.Valid || claims.Type != want || claims.UserID == "" {
		return nil, StatusInvalid
	}
	return claims, StatusValid
}
