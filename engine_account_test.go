package spendauth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/MrEthical07/spendauth/notify"
)

func TestChangePassword(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	u := h.seedUser(t, "ada@example.com")
	ctx := context.Background()

	other, _ := h.loginAs(t, firefoxWin, "ada@example.com")
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")

	if err := h.engine.ChangePassword(ctx, auth, testPassword, "new-password-123"); !errors.Is(err, ErrSessionTooNew) {
		t.Fatalf("expected age gate, got %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	err := h.engine.ChangePassword(ctx, auth, "wrong-password", "new-password-123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("wrong current password must be a validation error, got kind %v", KindOf(err))
	}
	if err := h.engine.ChangePassword(ctx, auth, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	var verr *ValidationError
	if err := h.engine.ChangePassword(ctx, auth, testPassword, "short"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := h.engine.ChangePassword(ctx, auth, testPassword, "new-password-123"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	stored := h.users.get(t, u.ID)
	if ok, _ := h.engine.hasher.Verify("new-password-123", stored.PasswordHash); !ok {
		t.Fatalf("new password not stored")
	}
	if _, err := h.engine.Refresh(clientCtx(firefoxWin), other.Tokens.RefreshToken); err == nil {
		t.Fatalf("other session survived password change")
	}
	if _, err := h.engine.CheckSessionAge(ctx, u.ID, auth.AccessToken, 0); err != nil {
		t.Fatalf("current session revoked: %v", err)
	}

	h.flush()
	if got := h.notifier.byKind(notify.KindPasswordChanged); len(got) != 1 {
		t.Fatalf("expected one password-changed notification, got %d", len(got))
	}
}

func TestUpdateProfile(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	h.seedUser(t, "ada@example.com")
	h.seedUser(t, "bob@example.com")
	ctx := context.Background()
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")

	name := "  Ada Lovelace "
	view, err := h.engine.UpdateProfile(ctx, auth, ProfileChanges{Name: &name})
	if err != nil {
		t.Fatalf("update name: %v", err)
	}
	if view.Name != "Ada Lovelace" {
		t.Fatalf("unexpected name %q", view.Name)
	}

	email := "Ada.L@Example.com"
	if _, err := h.engine.UpdateProfile(ctx, auth, ProfileChanges{Email: &email}); !errors.Is(err, ErrSessionTooNew) {
		t.Fatalf("expected email change to be age gated, got %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	taken := "bob@example.com"
	if _, err := h.engine.UpdateProfile(ctx, auth, ProfileChanges{Email: &taken}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if KindOf(ErrEmailTaken) != KindConflict {
		t.Fatalf("expected conflict kind for taken email")
	}

	view, err = h.engine.UpdateProfile(ctx, auth, ProfileChanges{Email: &email})
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if view.Email != "ada.l@example.com" || view.EmailVerified {
		t.Fatalf("unexpected view: %+v", view)
	}

	h.flush()
	if got := h.notifier.byKind(notify.KindEmailChanged); len(got) != 1 || got[0].Email != "ada@example.com" {
		t.Fatalf("expected notification to the old address, got %+v", got)
	}
}

// resetToken extracts the token from the most recent reset email.
func resetToken(t *testing.T, h *engineHarness) string {
	t.Helper()
	h.flush()
	sent := h.notifier.byKind(notify.KindPasswordReset)
	if len(sent) == 0 {
		t.Fatalf("no reset email sent")
	}
	link, err := url.Parse(sent[len(sent)-1].Data["resetUrl"])
	if err != nil {
		t.Fatalf("parse reset url: %v", err)
	}
	if link.Host != "app.example.com" {
		t.Fatalf("unexpected reset host %q", link.Host)
	}
	return link.Query().Get("token")
}

func TestPasswordResetFlow(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	u := h.seedUser(t, "ada@example.com")
	ctx := clientCtx(chromeMac)
	login, _ := h.loginAs(t, chromeMac, "ada@example.com")

	// Lock the account first; a reset clears it.
	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong"})
	}
	if !h.users.get(t, u.ID).AccountLocked {
		t.Fatalf("expected locked account")
	}

	if err := h.engine.RequestPasswordReset(ctx, "ADA@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := resetToken(t, h)

	if err := h.engine.ValidateResetToken(ctx, token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, token, "another-password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected single use, got %v", err)
	}

	stored := h.users.get(t, u.ID)
	if stored.AccountLocked || stored.FailedLoginAttempts != 0 {
		t.Fatalf("lockout not cleared: %+v", stored)
	}
	if _, err := h.engine.Refresh(ctx, login.Tokens.RefreshToken); err == nil {
		t.Fatalf("session survived password reset")
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: "brand-new-password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()

	if err := h.engine.RequestPasswordReset(clientCtx(chromeMac), "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	h.flush()
	if got := h.notifier.byKind(notify.KindPasswordReset); len(got) != 0 {
		t.Fatalf("email sent for unknown account")
	}
}

func TestPasswordResetTokenErrors(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	h.seedUser(t, "ada@example.com")
	ctx := clientCtx(chromeMac)

	if err := h.engine.ValidateResetToken(ctx, "not-a-token"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}

	if err := h.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	first := resetToken(t, h)
	if err := h.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	second := resetToken(t, h)

	if err := h.engine.ValidateResetToken(ctx, first); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected superseded token to be invalid, got %v", err)
	}

	var verr *ValidationError
	if err := h.engine.ResetPassword(ctx, second, "short"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	h.clock.Advance(time.Hour + time.Second)
	if err := h.engine.ValidateResetToken(ctx, second); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	h, cleanup := newEngineHarness(t, func(c *Config) { c.RateLimit.Enabled = true })
	defer cleanup()
	ctx := clientCtx(chromeMac)

	for i := 0; i < 3; i++ {
		if err := h.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	var rl *RateLimitError
	if err := h.engine.RequestPasswordReset(ctx, "nobody@example.com"); !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != time.Hour {
		t.Fatalf("expected 1h retry, got %v", rl.RetryAfter)
	}
}
