// Command spendauth-server serves the Spendwise auth API.
//
// Configuration comes from SPENDAUTH_* environment variables, an optional
// .env file and an optional config file (-config). In development, missing
// Redis and MongoDB settings fall back to an in-process Redis and in-memory
// user and audit stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/httpapi"
	"github.com/MrEthical07/spendauth/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "spendauth-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(settings)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := initTracing(ctx, settings.OTel)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := openBackends(ctx, settings, log)
	if err != nil {
		return err
	}
	defer deps.close()

	builder := spendauth.New().
		WithConfig(settings.Auth).
		WithRedis(deps.redis).
		WithUserStore(deps.users).
		WithAuditRecorder(deps.audit).
		WithNotifier(deps.notifier).
		WithLogger(log).
		WithMetrics(reg)
	if deps.sessions != nil {
		builder = builder.WithSessionStore(deps.sessions)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	api, err := httpapi.New(engine, httpapi.Options{
		Log:            log,
		AllowedOrigins: settings.HTTP.AllowedOrigins,
		TrustProxy:     settings.HTTP.TrustProxy,
		Registerer:     reg,
		Gatherer:       reg,
		RequestTimeout: settings.HTTP.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	srv := &http.Server{
		Addr:              settings.HTTP.Addr,
		Handler:           otelhttp.NewHandler(api.Routes(), "spendauth"),
		ReadHeaderTimeout: settings.HTTP.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", settings.HTTP.Addr),
			zap.String("env", settings.Env),
			zap.String("sessions", deps.sessionBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	return nil
}

func newLogger(s *config.Settings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Dev() {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	return cfg.Build(zap.Fields(zap.String("service", "spendauth")))
}
