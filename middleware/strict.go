package middleware

import (
	"net/http"

	"github.com/MrEthical07/spendauth"
)

// RequireStrict must run after [Guard]. It answers 503 when the request was
// admitted on the token signature alone because the session store was
// unreachable.
func RequireStrict(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok {
			RespondError(w, spendauth.ErrUnauthorized)
			return
		}
		if res.Degraded {
			RespondError(w, spendauth.ErrStoreUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after [Guard]. It answers 403 unless the caller has
// one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				RespondError(w, spendauth.ErrUnauthorized)
				return
			}
			if _, ok := allowed[res.Role]; !ok {
				RespondError(w, spendauth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit consumes one request from the named engine limiter per call.
// Exhausted clients get 429 with Retry-After.
func RateLimit(engine *spendauth.Engine, limiter string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.CheckRate(r.Context(), limiter); err != nil {
				RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
