package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/session"
)

// Edge proxy headers carrying coarse geolocation.
const (
	HeaderGeoCity    = "X-Geo-City"
	HeaderGeoCountry = "X-Geo-Country"
)

// Client attaches the caller's IP, User-Agent and location to the request
// context. Forwarding headers are honored only when trustProxy is set.
func Client(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var loc *session.Location
			city := strings.TrimSpace(r.Header.Get(HeaderGeoCity))
			country := strings.TrimSpace(r.Header.Get(HeaderGeoCountry))
			if city != "" || country != "" {
				loc = &session.Location{City: city, Country: country}
			}

			ctx := spendauth.WithClient(r.Context(), ClientIP(r, trustProxy), r.UserAgent(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop or X-Real-IP when
// trustProxy is set, and the peer address otherwise.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
