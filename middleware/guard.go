package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/spendauth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard].
func AuthResultFromContext(ctx context.Context) (*spendauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*spendauth.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx.
func WithAuthResult(ctx context.Context, res *spendauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard authenticates every request. Session failures answer 401 and clear
// the auth cookies so the client does not loop on a dead session.
func Guard(engine *spendauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				RespondError(w, spendauth.ErrEngineNotReady)
				return
			}
			cookies := engine.Config().Cookie

			res, err := engine.Authenticate(r.Context(), AccessToken(r, cookies))
			if err != nil {
				if SessionRejected(err) {
					ClearAuthCookies(w, cookies)
				}
				RespondError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// SessionRejected reports whether err means the caller's tokens or session
// are no longer usable. Only then should the auth cookies be cleared.
func SessionRejected(err error) bool {
	switch {
	case errors.Is(err, spendauth.ErrUnauthorized),
		errors.Is(err, spendauth.ErrTokenExpired),
		errors.Is(err, spendauth.ErrTokenInvalid),
		errors.Is(err, spendauth.ErrSessionInactive),
		errors.Is(err, spendauth.ErrSessionExpired):
		return true
	default:
		return false
	}
}
