package spendauth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	login          *prometheus.CounterVec
	refresh        *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	cache          *prometheus.CounterVec
	storeFallback  prometheus.Counter
	revoked        *prometheus.CounterVec
	lockouts       prometheus.Counter
	mfa            *prometheus.CounterVec
	backgroundDrop *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_login_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_refresh_total",
			Help: "Refresh attempts by result and session location tier.",
		}, []string{"result", "tier"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_session_cache_total",
			Help: "Session validation cache lookups by result.",
		}, []string{"result"}),
		storeFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendauth_session_store_fallback_total",
			Help: "Requests admitted on token signature alone while the session store was unavailable.",
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_sessions_revoked_total",
			Help: "Sessions deactivated by reason.",
		}, []string{"reason"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendauth_lockouts_total",
			Help: "Accounts locked after repeated failed logins.",
		}),
		mfa: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_mfa_total",
			Help: "MFA operations by operation and result.",
		}, []string{"op", "result"}),
		backgroundDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendauth_background_dropped_total",
			Help: "Best-effort background work dropped because a queue was full.",
		}, []string{"queue"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.login, m.refresh, m.rateLimited, m.cache, m.storeFallback,
		m.revoked, m.lockouts, m.mfa, m.backgroundDrop,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) loginResult(result string) {
	if m != nil {
		m.login.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refreshResult(result, tier string) {
	if m != nil {
		m.refresh.WithLabelValues(result, tier).Inc()
	}
}

func (m *Metrics) rateLimit(limiter string) {
	if m != nil {
		m.rateLimited.WithLabelValues(limiter).Inc()
	}
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

func (m *Metrics) fallback() {
	if m != nil {
		m.storeFallback.Inc()
	}
}

func (m *Metrics) sessionsRevoked(reason string, n int) {
	if m != nil && n > 0 {
		m.revoked.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) lockout() {
	if m != nil {
		m.lockouts.Inc()
	}
}

func (m *Metrics) mfaResult(op string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.mfa.WithLabelValues(op, result).Inc()
}

func (m *Metrics) dropped(queue string) {
	if m != nil {
		m.backgroundDrop.WithLabelValues(queue).Inc()
	}
}
