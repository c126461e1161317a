package spendauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/internal/cache"
	"github.com/MrEthical07/spendauth/internal/flows"
	"github.com/MrEthical07/spendauth/internal/limiters"
	"github.com/MrEthical07/spendauth/internal/rate"
	"github.com/MrEthical07/spendauth/internal/stores"
	"github.com/MrEthical07/spendauth/internal/touch"
	"github.com/MrEthical07/spendauth/jwt"
	"github.com/MrEthical07/spendauth/mfa"
	"github.com/MrEthical07/spendauth/notify"
	"github.com/MrEthical07/spendauth/password"
	"github.com/MrEthical07/spendauth/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rate limiter names.
const (
	LimiterLogin         = "login"
	LimiterSignup        = "signup"
	LimiterPasswordReset = "password_reset"
	LimiterMe            = "me"
)

// Session deactivation reasons.
const (
	reasonLogout     = "logout"
	reasonRevoked    = "revoked"
	reasonRevokedAll = "revoked_all"
	reasonExpired    = "expired"
	reasonPassword   = "password_changed"
	reasonReset      = "password_reset"
	reasonMFA        = "mfa_disabled"
	reasonReplaced   = "replaced"
)

// Engine is the authentication and session lifecycle service. It is safe
// for concurrent use once built.
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	users    UserStore
	sessions session.Store
	redis    redis.UniversalClient

	tokens  *jwt.Manager
	hasher  *password.Hasher
	mfa     *mfa.Service
	lockout *limiters.LockoutPolicy

	limiters    map[string]rate.Limiter
	cache       cache.Cache
	touch       *touch.Queue
	audit       *audit.Dispatcher
	notifier    notify.Notifier
	resets      *stores.PasswordResetStore
	enrollments *stores.MFAEnrollmentStore
	metrics     *Metrics

	flows flows.Service

	bgMu       sync.Mutex
	closed     bool
	background sync.WaitGroup
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Close drains background queues: audit writes, activity touches and
// pending notifications. Notifications sent after Close are dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return
	}
	e.closed = true
	e.bgMu.Unlock()

	e.touch.Close()
	e.background.Wait()
	e.audit.Close()
}

// AuditDropped returns how many audit entries were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ready pings every backend the engine needs to serve requests.
func (e *Engine) Ready(ctx context.Context) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return storeUnavailable(err)
	}
	if err := e.users.Ping(ctx); err != nil {
		return storeUnavailable(err)
	}
	if err := e.sessions.Ping(ctx); err != nil {
		return storeUnavailable(err)
	}
	return nil
}

// CheckRate consumes one request from the named limiter for the calling
// client. A nil error means the request may proceed. Limiter backend
// failures fail open.
func (e *Engine) CheckRate(ctx context.Context, limiter string) error {
	l, ok := e.limiters[limiter]
	if !ok {
		return nil
	}
	key := ClientFromContext(ctx).IP
	if key == "" {
		key = "unknown"
	}
	d, err := l.Allow(ctx, key)
	if err != nil {
		e.log.Warn("rate limiter unavailable", zap.String("limiter", limiter), zap.Error(err))
		return nil
	}
	if d.Allowed {
		return nil
	}
	e.metrics.rateLimit(limiter)
	return &RateLimitError{Limiter: limiter, RetryAfter: d.RetryAfter}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (e *Engine) pairOf(p jwt.Pair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		RememberMe:       p.RememberMe,
		CookieMaxAge:     e.tokens.ProfileFor(p.RememberMe).RefreshTTL,
	}
}

/*
====================================
LOGIN
====================================
*/

// Login verifies credentials and the second factor and opens a session for
// the calling device, replacing any earlier session of the same browser and
// OS.
//
// Errors: *RateLimitError, *ValidationError, ErrInvalidCredentials,
// *LockedError, ErrMFARequired, ErrInvalidMFACode, ErrStoreUnavailable.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.CheckRate(ctx, LimiterLogin); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, &ValidationError{Fields: map[string]string{"email": "Email and password are required"}}
	}

	client := ClientFromContext(ctx)
	res := e.flows.Login(ctx, flows.LoginRequest{
		Email:      email,
		Password:   req.Password,
		MFACode:    strings.TrimSpace(req.MFACode),
		RememberMe: req.RememberMe,
		Device:     client.Device,
		Location:   client.Location,
	})

	var userID string
	if res.User != nil {
		userID = res.User.UserID
	}

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureInvalidCredentials:
		e.metrics.loginResult("invalid_credentials")
		e.recordLogin(ctx, userID, email, "", audit.ReasonInvalidCredentials)
		return nil, ErrInvalidCredentials
	case flows.LoginFailureLocked:
		e.metrics.loginResult("locked")
		e.recordLogin(ctx, userID, email, "", audit.ReasonAccountLocked)
		until := e.now().Add(res.Verdict.Remaining)
		if res.LockedNow {
			e.metrics.lockout()
			e.securityEvent(ctx, userID, audit.EventAccountLocked, "", map[string]string{
				"until": until.UTC().Format(time.RFC3339),
			})
			e.notify(ctx, notify.Message{
				Kind:     notify.KindAccountLocked,
				Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
				UserID:   userID,
				Email:    email,
				Data:     map[string]string{"lockedUntil": until.UTC().Format(time.RFC3339)},
			})
		}
		return nil, &LockedError{Until: until, Remaining: res.Verdict.Remaining}
	case flows.LoginFailureMFARequired:
		e.metrics.loginResult("mfa_required")
		return nil, ErrMFARequired
	case flows.LoginFailureInvalidMFA:
		e.metrics.loginResult("invalid_mfa")
		e.metrics.mfaResult("login", false)
		e.recordLogin(ctx, userID, email, "", audit.ReasonInvalidMFA)
		return nil, ErrInvalidMFACode
	case flows.LoginFailureStore:
		e.metrics.loginResult("error")
		e.log.Error("login backend failure", zap.String("user_id", userID), zap.Error(res.Err))
		return nil, storeUnavailable(res.Err)
	default:
		e.metrics.loginResult("error")
		e.log.Error("login failed", zap.String("user_id", userID), zap.Error(res.Err))
		return nil, res.Err
	}

	e.metrics.loginResult("success")
	if res.User.MFAEnabled {
		e.metrics.mfaResult("login", true)
	}
	e.afterSessionOpened(ctx, res.Replaced)
	e.recordLogin(ctx, userID, email, res.Session.ID, "")
	e.securityEvent(ctx, userID, audit.EventLogin, res.Session.ID, nil)
	if res.UsedBackup {
		e.securityEvent(ctx, userID, audit.EventBackupCodeUsed, res.Session.ID, nil)
	}
	if len(res.Replaced) == 0 {
		e.notify(ctx, notify.Message{
			Kind:     notify.KindNewLogin,
			Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
			UserID:   userID,
			Email:    email,
			Data: map[string]string{
				"browser": client.Device.Browser,
				"os":      client.Device.OS,
				"ip":      client.IP,
			},
		})
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		user = &User{ID: userID, Email: res.User.Email, Role: res.User.Role, MFAEnabled: res.User.MFAEnabled}
	}
	return &LoginResult{
		User:      viewOf(user),
		SessionID: res.Session.ID,
		Tokens:    e.pairOf(res.Pair),
	}, nil
}

// afterSessionOpened evicts cache entries of sessions replaced on the same
// device.
func (e *Engine) afterSessionOpened(ctx context.Context, replaced []*session.Session) {
	for _, s := range replaced {
		e.evict(ctx, s.AccessTokenHash)
	}
	e.metrics.sessionsRevoked(reasonReplaced, len(replaced))
}

func (e *Engine) loginUser(ctx context.Context, email string) (flows.LoginUserRecord, error) {
	u, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return flows.LoginUserRecord{}, err
	}
	return flows.LoginUserRecord{
		UserID:         u.ID,
		Email:          u.Email,
		Role:           u.Role,
		PasswordHash:   u.PasswordHash,
		MFAEnabled:     u.MFAEnabled,
		MFASecret:      u.MFASecret,
		FailedAttempts: u.FailedLoginAttempts,
		Locked:         u.AccountLocked,
		LockedUntil:    u.LockedUntil,
	}, nil
}

func (e *Engine) loadIdentity(ctx context.Context, userID string) (jwt.Identity, error) {
	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return jwt.Identity{}, err
	}
	return jwt.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

func (e *Engine) updatePasswordHash(ctx context.Context, userID, hash string) error {
	return e.users.UpdatePasswordHash(ctx, userID, hash, e.now())
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	return e.users.ConsumeBackupCode(ctx, userID, mfa.BackupCodeHash(userID, code))
}

/*
====================================
SIGNUP
====================================
*/

// Signup creates an account and logs it in on the calling device.
//
// Errors: ErrSignupDisabled, *RateLimitError, *ValidationError,
// ErrEmailTaken, ErrStoreUnavailable.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*LoginResult, error) {
	if !e.config.Signup.Enabled {
		return nil, ErrSignupDisabled
	}
	if err := e.CheckRate(ctx, LimiterSignup); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	fields := map[string]string{}
	if !strings.Contains(email, "@") {
		fields["email"] = "A valid email is required"
	}
	if msg := e.passwordProblem(req.Password); msg != "" {
		fields["password"] = msg
	}
	name := strings.TrimSpace(req.Name)
	if len(name) > 100 {
		fields["name"] = "Name must be at most 100 characters"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              name,
		PasswordHash:      hash,
		Role:              e.config.Signup.DefaultRole,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, storeUnavailable(err)
	}

	client := ClientFromContext(ctx)
	opened, err := e.flows.OpenSession(ctx, flows.OpenSessionRequest{
		Identity: jwt.Identity{UserID: user.ID, Email: user.Email, Role: user.Role, RememberMe: req.RememberMe},
		Device:   client.Device,
		Location: client.Location,
	})
	if err != nil {
		return nil, storeUnavailable(err)
	}

	e.afterSessionOpened(ctx, opened.Replaced)
	e.recordLogin(ctx, user.ID, email, opened.Session.ID, "")
	e.securityEvent(ctx, user.ID, audit.EventLogin, opened.Session.ID, map[string]string{"signup": "true"})

	return &LoginResult{
		User:      viewOf(user),
		SessionID: opened.Session.ID,
		Tokens:    e.pairOf(opened.Pair),
	}, nil
}

func (e *Engine) passwordProblem(pw string) string {
	switch {
	case len(pw) < e.config.Security.MinPasswordLength:
		return "Password must be at least " + itoa(e.config.Security.MinPasswordLength) + " characters"
	case len(pw) > 72:
		return "Password must be at most 72 bytes"
	default:
		return ""
	}
}

/*
====================================
REFRESH / LOGOUT / AUTHENTICATE
====================================
*/

// Refresh rotates the token pair bound to refreshToken. The session's
// expiry is never extended.
//
// Errors: ErrTokenExpired, ErrTokenInvalid, ErrSessionInactive,
// ErrSessionExpired, ErrStoreUnavailable.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	res := e.flows.Refresh(ctx, refreshToken, ClientFromContext(ctx).Device)
	tier := res.Tier.String()

	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureExpiredToken:
		e.metrics.refreshResult("expired_token", tier)
		return nil, ErrTokenExpired
	case flows.RefreshFailureInvalidToken:
		e.metrics.refreshResult("invalid_token", tier)
		return nil, ErrTokenInvalid
	case flows.RefreshFailureSessionNotFound:
		e.metrics.refreshResult("session_not_found", tier)
		return nil, ErrSessionInactive
	case flows.RefreshFailureSessionExpired:
		e.metrics.refreshResult("session_expired", tier)
		e.metrics.sessionsRevoked(reasonExpired, 1)
		e.evict(ctx, res.PreviousAccessHash)
		return nil, ErrSessionExpired
	case flows.RefreshFailureStore:
		e.metrics.refreshResult("error", tier)
		e.log.Error("refresh backend failure", zap.String("user_id", res.UserID), zap.Error(res.Err))
		return nil, storeUnavailable(res.Err)
	default:
		e.metrics.refreshResult("error", tier)
		e.log.Error("refresh failed", zap.String("user_id", res.UserID), zap.Error(res.Err))
		return nil, res.Err
	}

	e.metrics.refreshResult("success", tier)
	if res.Tier != flows.TierExact {
		e.log.Info("refresh recovered session",
			zap.String("user_id", res.UserID),
			zap.String("session_id", res.Session.ID),
			zap.String("tier", tier),
		)
	}
	e.evict(ctx, res.PreviousAccessHash)

	return &RefreshResult{
		UserID:    res.UserID,
		SessionID: res.Session.ID,
		Tokens:    e.pairOf(res.Pair),
	}, nil
}

// Logout deactivates the session bound to accessToken, or to refreshToken
// when the access token is absent or unknown. It never fails the caller;
// backend errors are logged.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) {
	var sess *session.Session
	if accessToken != "" {
		s, err := e.sessions.FindByAccessToken(ctx, accessToken)
		if err == nil {
			sess = s
		} else if !errors.Is(err, session.ErrNotFound) {
			e.log.Warn("logout lookup failed", zap.Error(err))
		}
		e.evict(ctx, session.HashToken(accessToken))
	}
	if sess == nil && refreshToken != "" {
		if claims, status := e.tokens.VerifyRefresh(refreshToken); status != jwt.StatusInvalid {
			if uid, err := session.ParseUserID(claims.UserID); err == nil {
				s, err := e.sessions.FindActiveByRefreshToken(ctx, uid, refreshToken)
				if err == nil {
					sess = s
				} else if !errors.Is(err, session.ErrNotFound) {
					e.log.Warn("logout lookup failed", zap.Error(err))
				}
			}
		}
	}
	if sess == nil || !sess.IsActive {
		return
	}

	if _, err := e.sessions.Deactivate(ctx, sess.ID, reasonLogout, e.now()); err != nil {
		e.log.Warn("logout deactivate failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	e.evict(ctx, sess.AccessTokenHash)
	e.metrics.sessionsRevoked(reasonLogout, 1)
	e.securityEvent(ctx, sess.UserID.String(), audit.EventLogout, sess.ID, nil)
}

// Authenticate validates an access token for an inbound request. When the
// session store is unreachable the request is admitted on the token
// signature alone and the result is marked Degraded.
//
// Errors: ErrUnauthorized, ErrTokenExpired, ErrTokenInvalid,
// ErrSessionInactive.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	res := e.flows.Validate(ctx, accessToken)
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureMissing:
		return nil, ErrUnauthorized
	case flows.ValidateFailureExpired:
		return nil, ErrTokenExpired
	case flows.ValidateFailureSessionInactive:
		return nil, ErrSessionInactive
	default:
		return nil, ErrTokenInvalid
	}

	return &AuthResult{
		UserID:      res.Claims.UserID,
		Email:       res.Claims.Email,
		Role:        res.Claims.Role,
		RememberMe:  res.Claims.RememberMe,
		SessionID:   res.SessionID,
		AccessToken: accessToken,
		Degraded:    res.Degraded,
		CacheHit:    res.CacheHit,
	}, nil
}

// Me returns the caller's profile. When the user store is unreachable the
// profile is echoed from the token claims.
func (e *Engine) Me(ctx context.Context, auth *AuthResult) (*UserView, error) {
	u, err := e.users.GetUserByID(ctx, auth.UserID)
	switch {
	case err == nil:
		return viewOf(u), nil
	case errors.Is(err, ErrUserNotFound):
		return nil, ErrSessionInactive
	default:
		e.log.Warn("user store unavailable, echoing claims", zap.String("user_id", auth.UserID), zap.Error(err))
		return &UserView{ID: auth.UserID, Email: auth.Email, Role: auth.Role}, nil
	}
}

func (e *Engine) evict(ctx context.Context, accessHash string) {
	if e.cache == nil || accessHash == "" {
		return
	}
	if err := e.cache.Evict(ctx, accessHash); err != nil {
		e.log.Warn("session cache evict failed", zap.Error(err))
	}
}

func (e *Engine) purgeCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Purge(ctx); err != nil {
		e.log.Warn("session cache purge failed", zap.Error(err))
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
