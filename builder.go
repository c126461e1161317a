package spendauth

import (
	"errors"
	"strings"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserStore
	sessions session.Store
	recorder AuditRecorder
	notifier notify.Notifier

	logger     *zap.Logger
	registerer prometheus.Registerer
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing reset tokens, pending MFA
// enrollments and, unless overridden, sessions. Shared limiters and the
// shared validation cache use it too.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user record backend. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithSessionStore replaces the default Redis session store.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

// WithAuditRecorder sets where login history and security log entries go.
func (b *Builder) WithAuditRecorder(r AuditRecorder) *Builder {
	b.recorder = r
	return b
}

// WithNotifier sets the outbound email / in-app notifier.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics registers engine collectors on reg.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
//
// Build fails when the configuration is invalid, when no Redis client or
// user store was supplied, or when called twice.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	metrics, err := NewMetrics(b.registerer)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS / CREDENTIALS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Standard:      jwt.Profile{AccessTTL: cfg.JWT.AccessTTL, RefreshTTL: cfg.JWT.RefreshTTL},
		Remembered:    jwt.Profile{AccessTTL: cfg.JWT.RememberedAccessTTL, RefreshTTL: cfg.JWT.RememberedRefreshTTL},
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessions := b.sessions
	if sessions == nil {
		sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	}

	var validationCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Shared {
			validationCache = cache.NewRedis(b.redis, cfg.Cache.RedisPrefix, cfg.Cache.TTL)
		} else {
			validationCache = cache.NewMemory(cfg.Cache.TTL, cfg.Cache.SweepThreshold, now)
		}
	}

	e := &Engine{
		config:      cfg,
		log:         log,
		now:         now,
		users:       b.users,
		sessions:    sessions,
		redis:       b.redis,
		tokens:      tokens,
		hasher:      hasher,
		cache:       validationCache,
		metrics:     metrics,
		notifier:    b.notifier,
		resets:      stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		enrollments: stores.NewMFAEnrollmentStore(b.redis, cfg.MFA.RedisPrefix),
		mfa: mfa.NewService(mfa.Config{
			Issuer:          cfg.MFA.Issuer,
			Skew:            cfg.MFA.Skew,
			BackupCodeCount: cfg.MFA.BackupCodeCount,
		}, now),
		lockout: limiters.NewLockoutPolicy(b.users, limiters.LockoutConfig{
			Enabled:   cfg.Lockout.Enabled,
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Duration,
		}, now),
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}

	// -------- RATE LIMITERS --------
	if cfg.RateLimit.Enabled {
		e.limiters = make(map[string]rate.Limiter, 4)
		for name, rule := range map[string]RateRule{
			LimiterLogin:         cfg.RateLimit.Login,
			LimiterSignup:        cfg.RateLimit.Signup,
			LimiterPasswordReset: cfg.RateLimit.PasswordReset,
			LimiterMe:            cfg.RateLimit.Me,
		} {
			p := rate.Policy{Name: name, Limit: rule.Limit, Window: rule.Window}
			if cfg.RateLimit.Shared {
				e.limiters[name] = rate.NewRedis(b.redis, cfg.RateLimit.RedisPrefix, p)
			} else {
				e.limiters[name] = rate.NewMemory(p, now)
			}
		}
	}

	// -------- BACKGROUND WORK --------
	if cfg.Audit.Enabled && b.recorder != nil {
		e.audit = audit.NewDispatcher(audit.Config{
			Enabled:      true,
			BufferSize:   cfg.Audit.BufferSize,
			DropIfFull:   cfg.Audit.DropIfFull,
			WriteTimeout: cfg.Audit.WriteTimeout,
			OnDrop:       func() { metrics.dropped("audit") },
		}, b.recorder, log)
	}
	e.touch = touch.New(touch.Config{
		Workers:    cfg.Session.TouchWorkers,
		BufferSize: cfg.Session.TouchBuffer,
	}, sessions, log)

	e.flows = flows.New(e.flowDeps())

	b.built = true
	return e, nil
}

func (e *Engine) flowDeps() flows.Deps {
	cfg := e.config
	return flows.Deps{
		Login: flows.LoginDeps{
			Now:                e.now,
			SessionLifetime:    cfg.LifetimeFor,
			NewSessionID:       uuid.NewString,
			GetUserByEmail:     e.loginUser,
			ErrUserNotFound:    ErrUserNotFound,
			VerifyPassword:     e.hasher.Verify,
			VerifyDummy:        e.hasher.VerifyDummy,
			NeedsRehash:        e.hasher.NeedsRehash,
			HashPassword:       e.hasher.Hash,
			UpdatePasswordHash: e.updatePasswordHash,
			Lockout:            e.lockout,
			VerifyTOTP:         e.mfa.VerifyTOTP,
			ConsumeBackupCode:  e.consumeBackupCode,
			IssuePair:          e.tokens.IssuePair,
			SessionStore:       e.sessions,
			Warn: func(msg string, err error, userID string) {
				e.log.Warn(msg, zap.Error(err), zap.String("user_id", userID))
			},
		},
		Refresh: flows.RefreshDeps{
			VerifyRefresh:     e.tokens.VerifyRefresh,
			IssuePair:         e.tokens.IssuePair,
			LoadIdentity:      e.loadIdentity,
			SessionLifetime:   cfg.LifetimeFor,
			Now:               e.now,
			RecentWindow:      cfg.Session.RefreshRecentWindow,
			RecentDeviceMatch: cfg.Session.RecentRefreshDeviceMatch,
			StaleFallback:     staleFallback(cfg.Session.StaleRefreshFallback),
			MaxAttempts:       cfg.Session.MaxRefreshAttempts,
			SessionStore:      e.sessions,
		},
		Validate: flows.ValidateDeps{
			VerifyAccess:  e.tokens.VerifyAccess,
			Cache:         e.cache,
			SessionStore:  e.sessions,
			Now:           e.now,
			TouchInterval: cfg.Session.TouchInterval,
			Touch: func(id string, at time.Time) {
				if !e.touch.Enqueue(id, at) {
					e.metrics.dropped("touch")
				}
			},
			OnFallback: func(err error) {
				e.metrics.fallback()
				e.log.Warn("session store unavailable, admitting on token signature", zap.Error(err))
			},
			OnCache: e.metrics.cacheLookup,
		},
	}
}

func staleFallback(v string) flows.StaleFallback {
	switch strings.ToLower(v) {
	case StaleRefreshAny:
		return flows.StaleFallbackAny
	case StaleRefreshOff:
		return flows.StaleFallbackOff
	default:
		return flows.StaleFallbackDeviceMatch
	}
}
