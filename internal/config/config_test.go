package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef0123"
	testRefreshSecret = "refresh-secret-0123456789abcdef012"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SPENDAUTH_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("SPENDAUTH_JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setSecrets(t)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Dev() {
		t.Fatalf("expected development by default")
	}
	if s.HTTP.Addr != ":8080" {
		t.Fatalf("Addr = %q", s.HTTP.Addr)
	}
	a := s.Auth
	if a.JWT.AccessTTL != 15*time.Minute || a.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token lifetimes: %v %v", a.JWT.AccessTTL, a.JWT.RefreshTTL)
	}
	if a.Security.BcryptCost != 12 || a.Security.MinSessionAge != 24*time.Hour {
		t.Fatalf("unexpected security defaults: %+v", a.Security)
	}
	if a.RateLimit.Login.Limit != 5 || a.RateLimit.Login.Window != time.Minute {
		t.Fatalf("unexpected login rule: %+v", a.RateLimit.Login)
	}
	if a.Cookie.SameSite != http.SameSiteLaxMode || !a.Cookie.Secure {
		t.Fatalf("unexpected cookie defaults: %+v", a.Cookie)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	setSecrets(t)
	t.Setenv("SPENDAUTH_HTTP_ADDR", ":9090")
	t.Setenv("SPENDAUTH_BCRYPT_COST", "14")
	t.Setenv("SPENDAUTH_RATE_LIMIT_LOGIN_LIMIT", "10")
	t.Setenv("SPENDAUTH_SESSION_REFRESH_RECENT_WINDOW", "2m")
	t.Setenv("SPENDAUTH_HTTP_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.HTTP.Addr != ":9090" || s.Auth.Security.BcryptCost != 14 {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.Auth.RateLimit.Login.Limit != 10 {
		t.Fatalf("login limit = %d", s.Auth.RateLimit.Login.Limit)
	}
	if s.Auth.Session.RefreshRecentWindow != 2*time.Minute {
		t.Fatalf("recent window = %v", s.Auth.Session.RefreshRecentWindow)
	}
	if len(s.HTTP.AllowedOrigins) != 2 || s.HTTP.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("origins = %v", s.HTTP.AllowedOrigins)
	}
}

func TestLoadDotEnvBelowEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dotenv := strings.Join([]string{
		"SPENDAUTH_JWT_ACCESS_SECRET=" + testAccessSecret,
		"SPENDAUTH_JWT_REFRESH_SECRET=" + testRefreshSecret,
		"SPENDAUTH_MONGO_DATABASE=fromfile",
		"SPENDAUTH_LOG_LEVEL=debug",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SPENDAUTH_LOG_LEVEL", "warn")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mongo.Database != "fromfile" {
		t.Fatalf("Database = %q", s.Mongo.Database)
	}
	if s.LogLevel != "warn" {
		t.Fatalf("environment should win over .env, got %q", s.LogLevel)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without secrets")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	setSecrets(t)
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestProductionRequirements(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPENDAUTH_ENV", "production")
	t.Setenv("SPENDAUTH_JWT_ACCESS_SECRET", "short-access")
	t.Setenv("SPENDAUTH_JWT_REFRESH_SECRET", "short-refresh")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "at least") {
		t.Fatalf("expected short-secret error, got %v", err)
	}

	setSecrets(t)
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "redis_url") {
		t.Fatalf("expected redis_url error, got %v", err)
	}

	t.Setenv("SPENDAUTH_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SPENDAUTH_MONGO_URI", "mongodb://localhost:27017")
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Dev() {
		t.Fatalf("expected production")
	}
}

func TestSessionBackendRequiresMongo(t *testing.T) {
	t.Chdir(t.TempDir())
	setSecrets(t)
	t.Setenv("SPENDAUTH_SESSION_BACKEND", "mongo")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "mongo_uri") {
		t.Fatalf("expected mongo_uri error, got %v", err)
	}

	t.Setenv("SPENDAUTH_SESSION_BACKEND", "etcd")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
