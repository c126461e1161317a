package spendauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/spendauth/notify"
)

// enrollMFA runs setup and verification for the authenticated user and
// returns the enrollment.
func enrollMFA(t *testing.T, h *engineHarness, auth *AuthResult) *MFASetup {
	t.Helper()
	ctx := context.Background()
	setup, err := h.engine.SetupMFA(ctx, auth)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	code, err := h.engine.mfa.GenerateCode(setup.Secret)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := h.engine.VerifyMFA(ctx, auth, code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return setup
}

func TestMFASetupAndVerify(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	u := h.seedUser(t, "ada@example.com")
	ctx := context.Background()
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")

	setup, err := h.engine.SetupMFA(ctx, auth)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(setup.BackupCodes) != 10 || setup.OTPAuthURL == "" {
		t.Fatalf("unexpected setup: %+v", setup)
	}
	if h.users.get(t, u.ID).MFAEnabled {
		t.Fatalf("mfa enabled before verification")
	}

	err = h.engine.VerifyMFA(ctx, auth, "000000")
	if !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("wrong enrollment code must be a validation error, got kind %v", KindOf(err))
	}
	code, _ := h.engine.mfa.GenerateCode(setup.Secret)
	if err := h.engine.VerifyMFA(ctx, auth, code); err != nil {
		t.Fatalf("verify: %v", err)
	}

	stored := h.users.get(t, u.ID)
	if !stored.MFAEnabled || stored.MFASecret != setup.Secret || len(stored.BackupCodeHashes) != 10 {
		t.Fatalf("mfa not persisted: %+v", stored)
	}
	if _, err := h.engine.SetupMFA(ctx, auth); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}

	h.flush()
	if got := h.notifier.byKind(notify.KindMFAEnabled); len(got) != 1 {
		t.Fatalf("expected one mfa-enabled notification, got %d", len(got))
	}
}

func TestMFAVerifyWithoutPendingSetup(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	h.seedUser(t, "ada@example.com")
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")

	if err := h.engine.VerifyMFA(context.Background(), auth, "123456"); !errors.Is(err, ErrMFASetupExpired) {
		t.Fatalf("expected ErrMFASetupExpired, got %v", err)
	}
}

func TestLoginWithMFA(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	u := h.seedUser(t, "ada@example.com")
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")
	setup := enrollMFA(t, h, auth)
	ctx := clientCtx(firefoxWin)

	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: testPassword}); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: testPassword, MFACode: "000000"}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	code, _ := h.engine.mfa.GenerateCode(setup.Secret)
	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: testPassword, MFACode: code}); err != nil {
		t.Fatalf("login with totp: %v", err)
	}

	backup := setup.BackupCodes[0]
	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: testPassword, MFACode: backup}); err != nil {
		t.Fatalf("login with backup code: %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: u.Email, Password: testPassword, MFACode: backup}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected reused backup code to fail, got %v", err)
	}
	if n := len(h.users.get(t, u.ID).BackupCodeHashes); n != 9 {
		t.Fatalf("expected 9 remaining backup codes, got %d", n)
	}
}

func TestDisableMFA(t *testing.T) {
	h, cleanup := newEngineHarness(t, nil)
	defer cleanup()
	u := h.seedUser(t, "ada@example.com")
	ctx := context.Background()

	other, _ := h.loginAs(t, firefoxWin, "ada@example.com")
	_, auth := h.loginAs(t, chromeMac, "ada@example.com")

	if err := h.engine.DisableMFA(ctx, auth, testPassword); !errors.Is(err, ErrSessionTooNew) {
		t.Fatalf("expected age gate, got %v", err)
	}
	h.clock.Advance(25 * time.Hour)
	if err := h.engine.DisableMFA(ctx, auth, testPassword); !errors.Is(err, ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}

	enrollMFA(t, h, auth)
	if err := h.engine.DisableMFA(ctx, auth, "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := h.engine.DisableMFA(ctx, auth, testPassword); err != nil {
		t.Fatalf("disable: %v", err)
	}

	stored := h.users.get(t, u.ID)
	if stored.MFAEnabled || stored.MFASecret != "" {
		t.Fatalf("mfa still enabled: %+v", stored)
	}
	if _, err := h.engine.Refresh(clientCtx(firefoxWin), other.Tokens.RefreshToken); err == nil {
		t.Fatalf("other session survived mfa disable")
	}
}
