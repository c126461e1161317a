package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures a Handler.
type Options struct {
	Log *zap.Logger
	// AllowedOrigins lists CORS origins allowed to send credentials.
	AllowedOrigins []string
	// TrustProxy honors X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// Registerer receives the HTTP histogram; Gatherer backs /metrics.
	// Either may be nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// RequestTimeout bounds each request. Zero means 30s.
	RequestTimeout time.Duration
}

// Handler serves the auth API.
type Handler struct {
	engine   *spendauth.Engine
	log      *zap.Logger
	validate *validator.Validate
	cookies  spendauth.CookieConfig
	metrics  *requestMetrics
	opts     Options
}

// New returns a Handler for engine.
func New(engine *spendauth.Engine, opts Options) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	metrics, err := newRequestMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	return &Handler{
		engine:   engine,
		log:      opts.Log,
		validate: newValidator(),
		cookies:  engine.Config().Cookie,
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(h.observe)
	r.Use(chimw.Timeout(h.opts.RequestTimeout))
	if len(h.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           int((10 * time.Minute).Seconds()),
		}))
	}
	r.Use(middleware.Client(h.opts.TrustProxy))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.ready)
	if h.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/signup", h.signup)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Post("/forgot-password", h.forgotPassword)
		r.Get("/reset-password", h.validateResetToken)
		r.Post("/reset-password", h.resetPassword)

		// Rate limited before authentication so rejected tokens count too.
		r.With(
			middleware.RateLimit(h.engine, spendauth.LimiterMe),
			middleware.Guard(h.engine),
		).Get("/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(h.engine))

			r.Get("/sessions", h.listSessions)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStrict)

				r.Delete("/sessions", h.revokeSessions)
				r.Post("/mfa/setup", h.setupMFA)
				r.Post("/mfa/verify", h.verifyMFA)
				r.Post("/mfa/disable", h.disableMFA)
				r.Post("/change-password", h.changePassword)
				r.Put("/profile", h.updateProfile)
			})
		})
	})

	return r
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ready(r.Context()); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		middleware.RespondError(w, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail writes err, clearing the auth cookies when the session is gone.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.StatusOf(err)
	if middleware.SessionRejected(err) {
		middleware.ClearAuthCookies(w, h.cookies)
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.RespondError(w, err)
}

func authOf(r *http.Request) *spendauth.AuthResult {
	res, _ := middleware.AuthResultFromContext(r.Context())
	return res
}
