package spendauth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/spendauth/session"
)

// refreshConcurrently presents the same refresh token from n goroutines.
func refreshConcurrently(h *engineHarness, token string, n int) ([]*RefreshResult, []error) {
	var wg sync.WaitGroup
	results := make([]*RefreshResult, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.engine.Refresh(clientCtx(chromeMac), token)
		}(i)
	}
	close(start)
	wg.Wait()
	return results, errs
}

func TestConcurrentRefreshConvergesOnOneSession(t *testing.T) {
	const n = 6
	h, cleanup := newEngineHarness(t, func(c *Config) { c.Session.MaxRefreshAttempts = n })
	defer cleanup()
	h.seedUser(t, "ada@example.com")
	login, _ := h.loginAs(t, chromeMac, "ada@example.com")

	results, errs := refreshConcurrently(h, login.Tokens.RefreshToken, n)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if results[i].SessionID != login.SessionID {
			t.Fatalf("refresh %d moved to session %s", i, results[i].SessionID)
		}
	}

	active, err := h.engine.sessions.ListActive(context.Background(), session.UserID("u-ada@example.com"), h.clock.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active session, got %d", len(active))
	}

	current := 0
	for _, r := range results {
		if session.HashToken(r.Tokens.RefreshToken) == active[0].RefreshTokenHash {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one returned pair to be current, got %d", current)
	}
}

func TestConcurrentRefreshSingleWinnerWithoutRecovery(t *testing.T) {
	const n = 8
	h, cleanup := newEngineHarness(t, func(c *Config) {
		c.Session.RefreshRecentWindow = 0
		c.Session.StaleRefreshFallback = StaleRefreshOff
	})
	defer cleanup()
	h.seedUser(t, "ada@example.com")
	login, _ := h.loginAs(t, chromeMac, "ada@example.com")

	_, errs := refreshConcurrently(h, login.Tokens.RefreshToken, n)
	success, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrSessionInactive):
			lost++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 || lost != n-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d and %d", n-1, success, lost)
	}
}
