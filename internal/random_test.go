package internal

import "testing"

func TestOpaqueTokenRoundTrip(t *testing.T) {
	tok, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	parsed, err := ParseOpaqueToken(tok.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != tok.ID || parsed.SecretHash() != tok.SecretHash() {
		t.Fatal("round trip changed the token")
	}
}

func TestParseOpaqueTokenRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "short", "!!!!", "YWJj"} {
		if _, err := ParseOpaqueToken(in); err != ErrMalformedToken {
			t.Errorf("ParseOpaqueToken(%q) err = %v", in, err)
		}
	}
}
