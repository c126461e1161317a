// Package config loads server settings and the engine [spendauth.Config]
// from the environment, an optional .env file and an optional config file
// using Viper.
//
// Keys are flat and lower snake case ("jwt_access_secret"). In the
// environment they carry the SPENDAUTH_ prefix (SPENDAUTH_JWT_ACCESS_SECRET).
// Precedence, highest first: environment, config file, .env, defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "SPENDAUTH"

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const minProductionSecret = 32

// Settings is everything the server process needs.
type Settings struct {
	Env      string
	LogLevel string

	HTTP  HTTP
	Redis Redis
	Mongo Mongo
	NATS  NATS
	OTel  OTel

	Auth spendauth.Config
}

// HTTP configures the listener and router.
type HTTP struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	TrustProxy        bool
}

// Redis configures the session and limiter backend. An empty URL in
// development starts an in-process server.
type Redis struct {
	URL string
}

// Session backends.
const (
	SessionsRedis = "redis"
	SessionsMongo = "mongo"
)

// Mongo configures the document store. An empty URI in development uses
// the in-memory stores. SessionBackend picks where sessions live.
type Mongo struct {
	URI            string
	Database       string
	SessionBackend string
}

// NATS configures notification delivery. Empty URL logs notifications.
type NATS struct {
	URL           string
	SubjectPrefix string
}

// OTel configures trace export. Empty Endpoint disables tracing.
type OTel struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Dev reports whether the process runs in development mode.
func (s *Settings) Dev() bool { return s.Env != EnvProduction }

// Load reads settings. path names an optional config file (yaml, json,
// toml); a missing .env is ignored but a missing path is an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, spendauth.DefaultConfig())

	if err := mergeDotEnv(v, ".env"); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	s := &Settings{
		Env:      strings.ToLower(v.GetString("env")),
		LogLevel: v.GetString("log_level"),
		HTTP: HTTP{
			Addr:              v.GetString("http_addr"),
			ReadHeaderTimeout: v.GetDuration("http_read_header_timeout"),
			RequestTimeout:    v.GetDuration("http_request_timeout"),
			ShutdownTimeout:   v.GetDuration("http_shutdown_timeout"),
			AllowedOrigins:    splitList(v.GetString("http_allowed_origins")),
			TrustProxy:        v.GetBool("http_trust_proxy"),
		},
		Redis: Redis{URL: v.GetString("redis_url")},
		Mongo: Mongo{
			URI:            v.GetString("mongo_uri"),
			Database:       v.GetString("mongo_database"),
			SessionBackend: strings.ToLower(v.GetString("session_backend")),
		},
		NATS: NATS{
			URL:           v.GetString("nats_url"),
			SubjectPrefix: v.GetString("nats_subject_prefix"),
		},
		OTel: OTel{
			Endpoint:    v.GetString("otel_endpoint"),
			ServiceName: v.GetString("otel_service_name"),
			Insecure:    v.GetBool("otel_insecure"),
		},
		Auth: authConfig(v),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the engine config plus the production-only requirements.
func (s *Settings) Validate() error {
	if s.HTTP.Addr == "" {
		return errors.New("config: http_addr must be set")
	}
	switch s.Mongo.SessionBackend {
	case SessionsRedis:
	case SessionsMongo:
		if s.Mongo.URI == "" {
			return errors.New("config: session_backend=mongo requires mongo_uri")
		}
	default:
		return errors.New("config: session_backend must be redis or mongo")
	}
	if err := s.Auth.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if s.Dev() {
		return nil
	}
	if len(s.Auth.JWT.AccessSecret) < minProductionSecret || len(s.Auth.JWT.RefreshSecret) < minProductionSecret {
		return fmt.Errorf("config: jwt secrets must be at least %d bytes in production", minProductionSecret)
	}
	if s.Redis.URL == "" {
		return errors.New("config: redis_url is required in production")
	}
	if s.Mongo.URI == "" {
		return errors.New("config: mongo_uri is required in production")
	}
	if !s.Auth.Cookie.Secure {
		return errors.New("config: cookie_secure must be true in production")
	}
	return nil
}

// mergeDotEnv layers SPENDAUTH_* entries of a .env file over the defaults.
func mergeDotEnv(v *viper.Viper, name string) error {
	env := viper.New()
	env.SetConfigFile(name)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", name, err)
	}
	prefix := strings.ToLower(EnvPrefix) + "_"
	for _, k := range env.AllKeys() {
		if key, ok := strings.CutPrefix(k, prefix); ok {
			v.SetDefault(key, env.Get(k))
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sameSite(raw string) http.SameSite {
	switch strings.ToLower(raw) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
