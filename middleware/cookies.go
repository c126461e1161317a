package middleware

import (
	"net/http"

	"github.com/MrEthical07/spendauth"
)

func baseCookie(cfg spendauth.CookieConfig, name, value string) *http.Cookie {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// SetAuthCookies writes both token cookies. Their max age is the refresh
// lifetime of the pair's profile.
func SetAuthCookies(w http.ResponseWriter, cfg spendauth.CookieConfig, pair spendauth.TokenPair) {
	maxAge := int(pair.CookieMaxAge.Seconds())

	access := baseCookie(cfg, cfg.AccessName, pair.AccessToken)
	access.MaxAge = maxAge
	http.SetCookie(w, access)

	refresh := baseCookie(cfg, cfg.RefreshName, pair.RefreshToken)
	refresh.MaxAge = maxAge
	http.SetCookie(w, refresh)
}

// ClearAuthCookies expires both token cookies.
func ClearAuthCookies(w http.ResponseWriter, cfg spendauth.CookieConfig) {
	for _, name := range []string{cfg.AccessName, cfg.RefreshName} {
		c := baseCookie(cfg, name, "")
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// AccessToken returns the access token from the cookie, falling back to a
// Bearer header.
func AccessToken(r *http.Request, cfg spendauth.CookieConfig) string {
	if c, err := r.Cookie(cfg.AccessName); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return ""
}

// RefreshToken returns the refresh token cookie value, or "".
func RefreshToken(r *http.Request, cfg spendauth.CookieConfig) string {
	if c, err := r.Cookie(cfg.RefreshName); err == nil {
		return c.Value
	}
	return ""
}
