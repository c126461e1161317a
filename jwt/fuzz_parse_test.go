package jwt

import "testing"

// FuzzVerifyAccess feeds arbitrary strings to the verifier. It must never
// panic and must only return claims alongside a non-invalid status.
func FuzzVerifyAccess(f *testing.F) {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte("fuzz-access-secret-fuzz-access-00")
	cfg.RefreshSecret = []byte("fuzz-refresh-secret-fuzz-refresh0")
	mgr, err := NewManager(cfg)
	if err != nil {
		f.Fatal(err)
	}

	pair, err := mgr.IssuePair(Identity{UserID: "uid1", Email: "fuzz@example.com", RememberMe: true})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(pair.AccessToken)
	f.Add(pair.RefreshToken)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1c2VySWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, status := mgr.VerifyAccess(input)
		if status == StatusInvalid && claims != nil {
			t.Fatal("invalid status returned claims")
		}
		if status != StatusInvalid && claims == nil {
			t.Fatal("non-invalid status returned nil claims")
		}
	})
}
