package config

import (
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper, d spendauth.Config) {
	// Process
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("http_read_header_timeout", 5*time.Second)
	v.SetDefault("http_request_timeout", 15*time.Second)
	v.SetDefault("http_shutdown_timeout", 20*time.Second)
	v.SetDefault("http_allowed_origins", "")
	v.SetDefault("http_trust_proxy", false)
	v.SetDefault("redis_url", "")
	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_database", "spendwise")
	v.SetDefault("session_backend", SessionsRedis)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "spendauth.notify")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("otel_service_name", "spendauth")
	v.SetDefault("otel_insecure", false)

	// JWT
	v.SetDefault("jwt_access_secret", "")
	v.SetDefault("jwt_refresh_secret", "")
	v.SetDefault("jwt_issuer", d.JWT.Issuer)
	v.SetDefault("jwt_leeway", d.JWT.Leeway)
	v.SetDefault("jwt_access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt_refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt_remembered_access_ttl", d.JWT.RememberedAccessTTL)
	v.SetDefault("jwt_remembered_refresh_ttl", d.JWT.RememberedRefreshTTL)

	// Session
	v.SetDefault("session_redis_prefix", d.Session.RedisPrefix)
	v.SetDefault("session_lifetime", d.Session.Lifetime)
	v.SetDefault("session_remembered_lifetime", d.Session.RememberedLifetime)
	v.SetDefault("session_refresh_recent_window", d.Session.RefreshRecentWindow)
	v.SetDefault("session_recent_refresh_device_match", d.Session.RecentRefreshDeviceMatch)
	v.SetDefault("session_stale_refresh_fallback", d.Session.StaleRefreshFallback)
	v.SetDefault("session_max_refresh_attempts", d.Session.MaxRefreshAttempts)
	v.SetDefault("session_touch_interval", d.Session.TouchInterval)
	v.SetDefault("session_touch_workers", d.Session.TouchWorkers)
	v.SetDefault("session_touch_buffer", d.Session.TouchBuffer)

	// Cache
	v.SetDefault("cache_enabled", d.Cache.Enabled)
	v.SetDefault("cache_shared", d.Cache.Shared)
	v.SetDefault("cache_redis_prefix", d.Cache.RedisPrefix)
	v.SetDefault("cache_ttl", d.Cache.TTL)
	v.SetDefault("cache_sweep_threshold", d.Cache.SweepThreshold)

	// Rate limits
	v.SetDefault("rate_limit_enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit_shared", d.RateLimit.Shared)
	v.SetDefault("rate_limit_redis_prefix", d.RateLimit.RedisPrefix)
	setRuleDefaults(v, "rate_limit_login", d.RateLimit.Login)
	setRuleDefaults(v, "rate_limit_signup", d.RateLimit.Signup)
	setRuleDefaults(v, "rate_limit_password_reset", d.RateLimit.PasswordReset)
	setRuleDefaults(v, "rate_limit_me", d.RateLimit.Me)

	// Lockout
	v.SetDefault("lockout_enabled", d.Lockout.Enabled)
	v.SetDefault("lockout_threshold", d.Lockout.Threshold)
	v.SetDefault("lockout_duration", d.Lockout.Duration)

	// MFA
	v.SetDefault("mfa_issuer", d.MFA.Issuer)
	v.SetDefault("mfa_skew", d.MFA.Skew)
	v.SetDefault("mfa_backup_code_count", d.MFA.BackupCodeCount)
	v.SetDefault("mfa_enrollment_ttl", d.MFA.EnrollmentTTL)
	v.SetDefault("mfa_redis_prefix", d.MFA.RedisPrefix)

	// Security
	v.SetDefault("bcrypt_cost", d.Security.BcryptCost)
	v.SetDefault("min_password_length", d.Security.MinPasswordLength)
	v.SetDefault("min_session_age", d.Security.MinSessionAge)

	// Signup
	v.SetDefault("signup_enabled", d.Signup.Enabled)
	v.SetDefault("signup_default_role", d.Signup.DefaultRole)

	// Password reset
	v.SetDefault("password_reset_enabled", d.PasswordReset.Enabled)
	v.SetDefault("password_reset_token_ttl", d.PasswordReset.TokenTTL)
	v.SetDefault("password_reset_max_attempts", d.PasswordReset.MaxAttempts)
	v.SetDefault("password_reset_redis_prefix", d.PasswordReset.RedisPrefix)
	v.SetDefault("password_reset_url", d.PasswordReset.ResetURL)

	// Cookies
	v.SetDefault("cookie_access_name", d.Cookie.AccessName)
	v.SetDefault("cookie_refresh_name", d.Cookie.RefreshName)
	v.SetDefault("cookie_domain", d.Cookie.Domain)
	v.SetDefault("cookie_path", d.Cookie.Path)
	v.SetDefault("cookie_secure", d.Cookie.Secure)
	v.SetDefault("cookie_same_site", "lax")

	// Audit
	v.SetDefault("audit_enabled", d.Audit.Enabled)
	v.SetDefault("audit_buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit_drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("audit_write_timeout", d.Audit.WriteTimeout)
}

func setRuleDefaults(v *viper.Viper, key string, r spendauth.RateRule) {
	v.SetDefault(key+"_limit", r.Limit)
	v.SetDefault(key+"_window", r.Window)
}

func rule(v *viper.Viper, key string) spendauth.RateRule {
	return spendauth.RateRule{Limit: v.GetInt(key + "_limit"), Window: v.GetDuration(key + "_window")}
}

func authConfig(v *viper.Viper) spendauth.Config {
	return spendauth.Config{
		JWT: spendauth.JWTConfig{
			AccessSecret:         v.GetString("jwt_access_secret"),
			RefreshSecret:        v.GetString("jwt_refresh_secret"),
			Issuer:               v.GetString("jwt_issuer"),
			Leeway:               v.GetDuration("jwt_leeway"),
			AccessTTL:            v.GetDuration("jwt_access_ttl"),
			RefreshTTL:           v.GetDuration("jwt_refresh_ttl"),
			RememberedAccessTTL:  v.GetDuration("jwt_remembered_access_ttl"),
			RememberedRefreshTTL: v.GetDuration("jwt_remembered_refresh_ttl"),
		},
		Session: spendauth.SessionConfig{
			RedisPrefix:              v.GetString("session_redis_prefix"),
			Lifetime:                 v.GetDuration("session_lifetime"),
			RememberedLifetime:       v.GetDuration("session_remembered_lifetime"),
			RefreshRecentWindow:      v.GetDuration("session_refresh_recent_window"),
			RecentRefreshDeviceMatch: v.GetBool("session_recent_refresh_device_match"),
			StaleRefreshFallback:     v.GetString("session_stale_refresh_fallback"),
			MaxRefreshAttempts:       v.GetInt("session_max_refresh_attempts"),
			TouchInterval:            v.GetDuration("session_touch_interval"),
			TouchWorkers:             v.GetInt("session_touch_workers"),
			TouchBuffer:              v.GetInt("session_touch_buffer"),
		},
		Cache: spendauth.CacheConfig{
			Enabled:        v.GetBool("cache_enabled"),
			Shared:         v.GetBool("cache_shared"),
			RedisPrefix:    v.GetString("cache_redis_prefix"),
			TTL:            v.GetDuration("cache_ttl"),
			SweepThreshold: v.GetInt("cache_sweep_threshold"),
		},
		RateLimit: spendauth.RateLimitConfig{
			Enabled:       v.GetBool("rate_limit_enabled"),
			Shared:        v.GetBool("rate_limit_shared"),
			RedisPrefix:   v.GetString("rate_limit_redis_prefix"),
			Login:         rule(v, "rate_limit_login"),
			Signup:        rule(v, "rate_limit_signup"),
			PasswordReset: rule(v, "rate_limit_password_reset"),
			Me:            rule(v, "rate_limit_me"),
		},
		Lockout: spendauth.LockoutConfig{
			Enabled:   v.GetBool("lockout_enabled"),
			Threshold: v.GetInt("lockout_threshold"),
			Duration:  v.GetDuration("lockout_duration"),
		},
		MFA: spendauth.MFAConfig{
			Issuer:          v.GetString("mfa_issuer"),
			Skew:            v.GetUint("mfa_skew"),
			BackupCodeCount: v.GetInt("mfa_backup_code_count"),
			EnrollmentTTL:   v.GetDuration("mfa_enrollment_ttl"),
			RedisPrefix:     v.GetString("mfa_redis_prefix"),
		},
		Security: spendauth.SecurityConfig{
			BcryptCost:        v.GetInt("bcrypt_cost"),
			MinPasswordLength: v.GetInt("min_password_length"),
			MinSessionAge:     v.GetDuration("min_session_age"),
		},
		Signup: spendauth.SignupConfig{
			Enabled:     v.GetBool("signup_enabled"),
			DefaultRole: v.GetString("signup_default_role"),
		},
		PasswordReset: spendauth.PasswordResetConfig{
			Enabled:     v.GetBool("password_reset_enabled"),
			TokenTTL:    v.GetDuration("password_reset_token_ttl"),
			MaxAttempts: v.GetInt("password_reset_max_attempts"),
			RedisPrefix: v.GetString("password_reset_redis_prefix"),
			ResetURL:    v.GetString("password_reset_url"),
		},
		Cookie: spendauth.CookieConfig{
			AccessName:  v.GetString("cookie_access_name"),
			RefreshName: v.GetString("cookie_refresh_name"),
			Domain:      v.GetString("cookie_domain"),
			Path:        v.GetString("cookie_path"),
			Secure:      v.GetBool("cookie_secure"),
			SameSite:    sameSite(v.GetString("cookie_same_site")),
		},
		Audit: spendauth.AuditConfig{
			Enabled:      v.GetBool("audit_enabled"),
			BufferSize:   v.GetInt("audit_buffer_size"),
			DropIfFull:   v.GetBool("audit_drop_if_full"),
			WriteTimeout: v.GetDuration("audit_write_timeout"),
		},
	}
}
