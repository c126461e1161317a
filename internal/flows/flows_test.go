package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/spendauth/internal/cache"
	"github.com/MrEthical07/spendauth/internal/limiters"
	"github.com/MrEthical07/spendauth/jwt"
	"github.com/MrEthical07/spendauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type flowHarness struct {
	clock   *testClock
	tokens  *jwt.Manager
	store   *session.RedisStore
	mr      *miniredis.Miniredis
	chrome  session.Device
	firefox session.Device
}

func newFlowHarness(t *testing.T) (*flowHarness, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg := jwt.DefaultConfig()
	cfg.AccessSecret = []byte("access-secret-for-flow-tests-0000")
	cfg.RefreshSecret = []byte("refresh-secret-for-flow-tests-000")
	cfg.Now = clock.Now
	tokens, err := jwt.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h := &flowHarness{
		clock:   clock,
		tokens:  tokens,
		store:   session.NewRedisStore(rdb, "ss"),
		mr:      mr,
		chrome:  session.Device{Browser: "Chrome", OS: "macOS", DeviceType: session.DeviceDesktop},
		firefox: session.Device{Browser: "Firefox", OS: "Linux", DeviceType: session.DeviceDesktop},
	}
	return h, func() {
		rdb.Close()
		mr.Close()
	}
}

func lifetime(rememberMe bool) time.Duration {
	if rememberMe {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

func (h *flowHarness) loginDeps(users map[string]*LoginUserRecord, lockStore *fakeLockStore) LoginDeps {
	return LoginDeps{
		Now:             h.clock.Now,
		SessionLifetime: lifetime,
		NewSessionID:    uuid.NewString,
		GetUserByEmail: func(_ context.Context, email string) (LoginUserRecord, error) {
			u, ok := users[email]
			if !ok {
				return LoginUserRecord{}, errUnknownUser
			}
			if lockStore != nil {
				u.FailedAttempts = lockStore.counts[u.UserID]
				u.Locked = !lockStore.until[u.UserID].IsZero()
				u.LockedUntil = lockStore.until[u.UserID]
			}
			return *u, nil
		},
		ErrUserNotFound: errUnknownUser,
		VerifyPassword: func(pw, encoded string) (bool, error) {
			return pw == encoded, nil
		},
		Lockout:      limiters.NewLockoutPolicy(lockStore, limiters.DefaultLockoutConfig(), h.clock.Now),
		IssuePair:    h.tokens.IssuePair,
		SessionStore: h.store,
		VerifyTOTP: func(secret, code string) (bool, error) {
			return code == "123456", nil
		},
		ConsumeBackupCode: func(_ context.Context, _ string, code string) (bool, error) {
			return code == "ABCDE-FGHIJ", nil
		},
	}
}

func (h *flowHarness) refreshDeps() RefreshDeps {
	return RefreshDeps{
		VerifyRefresh:   h.tokens.VerifyRefresh,
		IssuePair:       h.tokens.IssuePair,
		SessionLifetime: lifetime,
		Now:             h.clock.Now,
		RecentWindow:    5 * time.Minute,
		StaleFallback:   StaleFallbackDeviceMatch,
		SessionStore:    h.store,
		MaxAttempts:     3,
	}
}

var errUnknownUser = errors.New("unknown user")

type fakeLockStore struct {
	mu     sync.Mutex
	counts map[string]int
	until  map[string]time.Time
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{counts: map[string]int{}, until: map[string]time.Time{}}
}

func (f *fakeLockStore) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[id]++
	return f.counts[id], nil
}

func (f *fakeLockStore) LockAccount(_ context.Context, id string, until time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.until[id] = until
	return nil
}

func (f *fakeLockStore) ClearLockout(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, id)
	delete(f.until, id)
	return nil
}

func (h *flowHarness) openSession(t *testing.T, userID string, d session.Device) OpenSessionResult {
	t.Helper()
	deps := h.loginDeps(nil, nil)
	res, err := OpenSession(context.Background(), OpenSessionRequest{
		Identity: jwt.Identity{UserID: userID, Email: "ana@example.com", Role: "user"},
		Device:   d,
	}, deps)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return res
}

func TestLoginSuccessCreatesSessionAndReplacesSameDevice(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	users := map[string]*LoginUserRecord{
		"ana@example.com": {UserID: "u1", Email: "ana@example.com", Role: "user", PasswordHash: "pw"},
	}
	deps := h.loginDeps(users, newFakeLockStore())
	req := LoginRequest{Email: "ana@example.com", Password: "pw", Device: h.chrome}

	first := RunLogin(context.Background(), req, deps)
	if first.Failure != LoginFailureNone {
		t.Fatalf("first login failure=%d err=%v", first.Failure, first.Err)
	}
	h.clock.Advance(time.Minute)
	second := RunLogin(context.Background(), req, deps)
	if second.Failure != LoginFailureNone {
		t.Fatalf("second login failure=%d err=%v", second.Failure, second.Err)
	}
	if len(second.Replaced) != 1 || second.Replaced[0].ID != first.Session.ID {
		t.Fatalf("expected first session replaced, got %+v", second.Replaced)
	}

	other := RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", Device: h.firefox}, deps)
	if len(other.Replaced) != 0 {
		t.Fatalf("different device must not replace sessions")
	}

	active, err := h.store.ListActive(context.Background(), "u1", h.clock.Now())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	if !second.Session.ExpiresAt.Equal(second.Session.OriginalExpiresAt) {
		t.Fatalf("expiresAt must mirror originalExpiresAt at creation")
	}
}

func TestLoginUnknownUserRunsDummyVerify(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	called := false
	deps := h.loginDeps(map[string]*LoginUserRecord{}, newFakeLockStore())
	deps.VerifyDummy = func(string) { called = true }

	res := RunLogin(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "x"}, deps)
	if res.Failure != LoginFailureInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %d", res.Failure)
	}
	if !called {
		t.Fatalf("expected dummy verification for unknown user")
	}
}

func TestLoginLocksOnFifthFailureAndUnlocksAfterDuration(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	locks := newFakeLockStore()
	users := map[string]*LoginUserRecord{
		"ana@example.com": {UserID: "u1", Email: "ana@example.com", PasswordHash: "pw"},
	}
	deps := h.loginDeps(users, locks)
	bad := LoginRequest{Email: "ana@example.com", Password: "wrong", Device: h.chrome}

	for i := 1; i <= 4; i++ {
		if res := RunLogin(context.Background(), bad, deps); res.Failure != LoginFailureInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %d", i, res.Failure)
		}
	}
	res := RunLogin(context.Background(), bad, deps)
	if res.Failure != LoginFailureLocked || res.Verdict.RemainingMinutes() != 15 {
		t.Fatalf("expected lock for 15 minutes, got failure=%d verdict=%+v", res.Failure, res.Verdict)
	}

	good := LoginRequest{Email: "ana@example.com", Password: "pw", Device: h.chrome}
	h.clock.Advance(14 * time.Minute)
	if res := RunLogin(context.Background(), good, deps); res.Failure != LoginFailureLocked {
		t.Fatalf("expected still locked, got %d", res.Failure)
	}

	h.clock.Advance(time.Minute)
	if res := RunLogin(context.Background(), good, deps); res.Failure != LoginFailureNone {
		t.Fatalf("expected success after lock expiry, got %d err=%v", res.Failure, res.Err)
	}
	if locks.counts["u1"] != 0 {
		t.Fatalf("expected failed attempts reset, got %d", locks.counts["u1"])
	}
}

func TestLoginMFARequiredIssuesNothing(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	users := map[string]*LoginUserRecord{
		"ana@example.com": {UserID: "u1", Email: "ana@example.com", PasswordHash: "pw", MFAEnabled: true, MFASecret: "S"},
	}
	deps := h.loginDeps(users, newFakeLockStore())

	res := RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", Device: h.chrome}, deps)
	if res.Failure != LoginFailureMFARequired {
		t.Fatalf("expected MFA required, got %d", res.Failure)
	}
	if res.Session != nil || res.Pair.AccessToken != "" {
		t.Fatalf("no session or tokens may be issued before MFA")
	}
	active, _ := h.store.ListActive(context.Background(), "u1", h.clock.Now())
	if len(active) != 0 {
		t.Fatalf("expected no sessions, got %d", len(active))
	}

	res = RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", MFACode: "000000"}, deps)
	if res.Failure != LoginFailureInvalidMFA {
		t.Fatalf("expected invalid MFA, got %d", res.Failure)
	}

	res = RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", MFACode: "123456"}, deps)
	if res.Failure != LoginFailureNone {
		t.Fatalf("expected TOTP login success, got %d", res.Failure)
	}

	res = RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", MFACode: "abcde-fghij"}, deps)
	if res.Failure != LoginFailureInvalidMFA {
		t.Fatalf("expected unknown backup code rejected, got %d", res.Failure)
	}
	res = RunLogin(context.Background(), LoginRequest{Email: "ana@example.com", Password: "pw", MFACode: "ABCDE-FGHIJ"}, deps)
	if res.Failure != LoginFailureNone || !res.UsedBackup {
		t.Fatalf("expected backup login success, got %d", res.Failure)
	}
}

func TestRefreshKeepsFixedExpiry(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	token := opened.Pair.RefreshToken
	deps := h.refreshDeps()

	for i := 0; i < 5; i++ {
		h.clock.Advance(10 * time.Minute)
		res := RunRefresh(context.Background(), token, deps)
		if res.Failure != RefreshFailureNone {
			t.Fatalf("refresh %d: failure=%d err=%v", i, res.Failure, res.Err)
		}
		if res.Tier != TierExact {
			t.Fatalf("refresh %d: expected exact tier, got %s", i, res.Tier)
		}
		if !res.Session.ExpiresAt.Equal(opened.Session.OriginalExpiresAt) {
			t.Fatalf("refresh %d moved expiresAt to %v", i, res.Session.ExpiresAt)
		}
		token = res.Pair.RefreshToken
	}
}

func TestRefreshPastDeadlineDeactivates(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	deps := h.refreshDeps()
	// The refresh token outlives the one-hour session.
	deps.SessionLifetime = func(bool) time.Duration { return time.Hour }
	opened := h.openSessionWith(t, "u1", h.chrome, deps.SessionLifetime)

	h.clock.Advance(2 * time.Hour)
	res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if res.Failure != RefreshFailureSessionExpired {
		t.Fatalf("expected session expired, got %d", res.Failure)
	}
	got, err := h.store.Get(context.Background(), opened.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected session deactivated")
	}
}

func (h *flowHarness) openSessionWith(t *testing.T, userID string, d session.Device, life func(bool) time.Duration) OpenSessionResult {
	t.Helper()
	deps := h.loginDeps(nil, nil)
	deps.SessionLifetime = life
	res, err := OpenSession(context.Background(), OpenSessionRequest{
		Identity: jwt.Identity{UserID: userID, Email: "ana@example.com"},
		Device:   d,
	}, deps)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return res
}

func TestRefreshOldTokenWithinRecentWindowAdoptsSession(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	deps := h.refreshDeps()
	deps.StaleFallback = StaleFallbackOff

	first := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %d", first.Failure)
	}

	h.clock.Advance(2 * time.Minute)
	second := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if second.Failure != RefreshFailureNone {
		t.Fatalf("second refresh: failure=%d err=%v", second.Failure, second.Err)
	}
	if second.Tier != TierRecent || second.Session.ID != opened.Session.ID {
		t.Fatalf("expected recent tier on same session, got tier=%s id=%s", second.Tier, second.Session.ID)
	}

	h.clock.Advance(6 * time.Minute)
	third := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if third.Failure != RefreshFailureSessionNotFound {
		t.Fatalf("expected not found outside window with stale tier off, got %d", third.Failure)
	}
}

func TestRefreshRecentTierRequiresDeviceMatch(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	deps := h.refreshDeps()
	deps.StaleFallback = StaleFallbackOff
	deps.RecentDeviceMatch = true
	deps.Device = h.chrome
	if res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps); res.Failure != RefreshFailureNone {
		t.Fatalf("initial refresh: %d", res.Failure)
	}
	h.clock.Advance(time.Minute)

	deps.Device = h.firefox
	res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if res.Failure != RefreshFailureSessionNotFound {
		t.Fatalf("expected other device rejected inside recent window, got failure=%d tier=%s", res.Failure, res.Tier)
	}

	deps.Device = h.chrome
	res = RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if res.Failure != RefreshFailureNone || res.Tier != TierRecent || res.Session.ID != opened.Session.ID {
		t.Fatalf("expected recent tier on same device, got failure=%d tier=%s", res.Failure, res.Tier)
	}
}

func TestRefreshStaleTierRequiresDeviceMatch(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	deps := h.refreshDeps()
	if res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps); res.Failure != RefreshFailureNone {
		t.Fatalf("initial refresh: %d", res.Failure)
	}
	h.clock.Advance(time.Hour)

	deps.Device = h.firefox
	if res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps); res.Failure != RefreshFailureSessionNotFound {
		t.Fatalf("expected mismatched device rejected, got %d", res.Failure)
	}

	deps.Device = h.chrome
	res := RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
	if res.Failure != RefreshFailureNone || res.Tier != TierStale {
		t.Fatalf("expected stale tier success, got failure=%d tier=%s", res.Failure, res.Tier)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	res := RunRefresh(context.Background(), opened.Pair.AccessToken, h.refreshDeps())
	if res.Failure != RefreshFailureInvalidToken {
		t.Fatalf("expected invalid token, got %d", res.Failure)
	}
}

func TestConcurrentRefreshBothSucceedOnSameSession(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	deps := h.refreshDeps()

	var wg sync.WaitGroup
	results := make([]RefreshResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = RunRefresh(context.Background(), opened.Pair.RefreshToken, deps)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Failure != RefreshFailureNone {
			t.Fatalf("refresh %d failed: %d err=%v", i, res.Failure, res.Err)
		}
		if res.Session.ID != opened.Session.ID {
			t.Fatalf("refresh %d used session %s", i, res.Session.ID)
		}
	}

	stored, err := h.store.Get(context.Background(), opened.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	winner := false
	for _, res := range results {
		if stored.RefreshTokenHash == session.HashToken(res.Pair.RefreshToken) {
			winner = true
		}
	}
	if !winner {
		t.Fatalf("stored refresh token matches neither writer")
	}
}

func (h *flowHarness) validateDeps(c cache.Cache) ValidateDeps {
	return ValidateDeps{
		VerifyAccess:  h.tokens.VerifyAccess,
		Cache:         c,
		SessionStore:  h.store,
		Now:           h.clock.Now,
		TouchInterval: time.Minute,
	}
}

func TestValidateCachesAndHonoursEviction(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	c := cache.NewMemory(cache.DefaultTTL, cache.DefaultSweepThreshold, h.clock.Now)
	deps := h.validateDeps(c)

	res := RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if res.Failure != ValidateFailureNone || res.CacheHit {
		t.Fatalf("expected store-validated success, got %+v", res)
	}
	res = RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if !res.CacheHit || res.SessionID != opened.Session.ID {
		t.Fatalf("expected cache hit, got %+v", res)
	}

	if _, err := h.store.Deactivate(context.Background(), opened.Session.ID, "revoked", h.clock.Now()); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := c.Evict(context.Background(), session.HashToken(opened.Pair.AccessToken)); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	res = RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if res.Failure != ValidateFailureSessionInactive {
		t.Fatalf("expected inactive after eviction, got %+v", res)
	}
}

func TestValidateTouchesAfterInterval(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	var touched []string
	deps := h.validateDeps(nil)
	deps.Touch = func(id string, _ time.Time) { touched = append(touched, id) }

	RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if len(touched) != 0 {
		t.Fatalf("fresh session must not be touched")
	}
	h.clock.Advance(2 * time.Minute)
	RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if len(touched) != 1 || touched[0] != opened.Session.ID {
		t.Fatalf("expected one touch, got %v", touched)
	}
}

func TestValidateFallsBackToSignatureWhenStoreDown(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	c := cache.NewMemory(cache.DefaultTTL, cache.DefaultSweepThreshold, h.clock.Now)
	var fallbacks int
	deps := h.validateDeps(c)
	deps.OnFallback = func(error) { fallbacks++ }

	h.mr.Close()
	res := RunValidate(context.Background(), opened.Pair.AccessToken, deps)
	if res.Failure != ValidateFailureNone || !res.Degraded {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if fallbacks != 1 || c.Len() != 0 {
		t.Fatalf("expected one fallback and cold cache, got fallbacks=%d len=%d", fallbacks, c.Len())
	}
}

func TestValidateExpiredAndMissing(t *testing.T) {
	h, done := newFlowHarness(t)
	defer done()

	opened := h.openSession(t, "u1", h.chrome)
	deps := h.validateDeps(nil)

	if res := RunValidate(context.Background(), "", deps); res.Failure != ValidateFailureMissing {
		t.Fatalf("expected missing, got %d", res.Failure)
	}
	h.clock.Advance(15*time.Minute + 2*time.Minute)
	if res := RunValidate(context.Background(), opened.Pair.AccessToken, deps); res.Failure != ValidateFailureExpired {
		t.Fatalf("expected expired, got %d", res.Failure)
	}
}
