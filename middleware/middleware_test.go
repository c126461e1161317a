package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const chromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func newTestEngine(t *testing.T) (*spendauth.Engine, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := spendauth.DefaultConfig()
	cfg.JWT.AccessSecret = "middleware-access-secret-0123456789"
	cfg.JWT.RefreshSecret = "middleware-refresh-secret-0123456789"
	cfg.Security.BcryptCost = 4

	e, err := spendauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUsers()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return e, func() {
		e.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func signup(t *testing.T, e *spendauth.Engine, email string) *spendauth.LoginResult {
	t.Helper()
	ctx := spendauth.WithClient(context.Background(), "203.0.113.9", chromeMac, nil)
	res, err := e.Signup(ctx, spendauth.SignupRequest{Email: email, Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	return res
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func clearedCookies(rec *httptest.ResponseRecorder) map[string]bool {
	out := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			out[c.Name] = true
		}
	}
	return out
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	res, _ := AuthResultFromContext(r.Context())
	Respond(w, http.StatusOK, map[string]string{"userId": res.UserID})
})

func TestGuardRejectsMissingTokenAndClearsCookies(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	Guard(e)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Success || env.Error == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	cleared := clearedCookies(rec)
	if !cleared["accessToken"] || !cleared["refreshToken"] {
		t.Fatalf("expected both cookies cleared, got %v", cleared)
	}
}

func TestGuardAcceptsCookieAndBearer(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	res := signup(t, e, "ada@example.com")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: res.Tokens.AccessToken})
	rec := httptest.NewRecorder()
	Guard(e)(okHandler).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)
	rec = httptest.NewRecorder()
	Guard(e)(okHandler).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: expected 200, got %d", rec.Code)
	}
}

func TestGuardRejectsRevokedSession(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	res := signup(t, e, "ada@example.com")

	e.Logout(context.Background(), res.Tokens.AccessToken, "")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: res.Tokens.AccessToken})
	rec := httptest.NewRecorder()
	Guard(e)(okHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !clearedCookies(rec)["refreshToken"] {
		t.Fatalf("expected refresh cookie cleared")
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(WithAuthResult(req.Context(), &spendauth.AuthResult{UserID: "u1", Role: "user"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	req = req.WithContext(WithAuthResult(req.Context(), &spendauth.AuthResult{UserID: "u1", Role: "admin"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireStrictRejectsDegraded(t *testing.T) {
	handler := RequireStrict(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/auth/sessions", nil)
	req = req.WithContext(WithAuthResult(req.Context(), &spendauth.AuthResult{UserID: "u1", Degraded: true}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&spendauth.ValidationError{Fields: map[string]string{"email": "required"}}, http.StatusBadRequest},
		{spendauth.ErrInvalidCredentials, http.StatusUnauthorized},
		{&spendauth.LockedError{Remaining: 10 * time.Minute}, http.StatusForbidden},
		{&spendauth.AgeGateError{RequiredAge: 24 * time.Hour}, http.StatusForbidden},
		{spendauth.ErrSessionNotFound, http.StatusNotFound},
		{spendauth.ErrEmailTaken, http.StatusConflict},
		{spendauth.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("secret detail"))
	if env := decode(t, rec); env.Error != "Internal server error" {
		t.Fatalf("internal error leaked: %q", env.Error)
	}
}

func TestRespondErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &spendauth.RateLimitError{Limiter: "login", RetryAfter: time.Minute})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if env := decode(t, rec); env.RetryAfter != 60 {
		t.Fatalf("expected retryAfter 60 in body, got %d", env.RetryAfter)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := ClientIP(req, false); got != "10.0.0.1" {
		t.Fatalf("untrusted: got %q", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.5" {
		t.Fatalf("trusted: got %q", got)
	}
}

func TestClientAttachesLocation(t *testing.T) {
	var got spendauth.ClientInfo
	handler := Client(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = spendauth.ClientFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", chromeMac)
	req.Header.Set(HeaderGeoCity, "Lisbon")
	req.Header.Set(HeaderGeoCountry, "PT")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Location == nil || got.Location.City != "Lisbon" || got.Location.Country != "PT" {
		t.Fatalf("location not attached: %+v", got.Location)
	}
	if got.Device.Browser != "Chrome" {
		t.Fatalf("expected Chrome device, got %+v", got.Device)
	}
}

func TestSetAuthCookies(t *testing.T) {
	cfg := spendauth.DefaultConfig().Cookie
	rec := httptest.NewRecorder()
	SetAuthCookies(rec, cfg, spendauth.TokenPair{
		AccessToken:  "a",
		RefreshToken: "r",
		CookieMaxAge: 7 * 24 * time.Hour,
	})

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
			t.Fatalf("unexpected cookie attributes: %+v", c)
		}
		if c.MaxAge != 7*24*3600 {
			t.Fatalf("unexpected max age %d", c.MaxAge)
		}
	}
}

func TestSessionRejected(t *testing.T) {
	wrongCode := &spendauth.ValidationError{
		Fields: map[string]string{"code": "Invalid verification code"},
		Cause:  spendauth.ErrInvalidMFACode,
	}
	cases := []struct {
		err  error
		want bool
	}{
		{spendauth.ErrUnauthorized, true},
		{spendauth.ErrTokenExpired, true},
		{spendauth.ErrTokenInvalid, true},
		{spendauth.ErrSessionInactive, true},
		{spendauth.ErrSessionExpired, true},
		{spendauth.ErrInvalidCredentials, false},
		{spendauth.ErrInvalidMFACode, false},
		{wrongCode, false},
		{&spendauth.AgeGateError{RequiredAge: 24 * time.Hour}, false},
		{spendauth.ErrStoreUnavailable, false},
	}
	for _, tc := range cases {
		if got := SessionRejected(tc.err); got != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}

	rec := httptest.NewRecorder()
	RespondError(rec, wrongCode)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a wrong code, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Errors["code"] == "" {
		t.Fatalf("expected field error for code, got %+v", env)
	}
}
