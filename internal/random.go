package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	opaqueIDSize     = 16
	opaqueSecretSize = 32
	opaqueTokenSize  = opaqueIDSize + opaqueSecretSize
)

// ErrMalformedToken is returned when an opaque token cannot be decoded.
var ErrMalformedToken = errors.New("malformed token")

// OpaqueToken is a random record id plus a random secret. The id addresses
// the stored record; only the secret's digest is persisted.
type OpaqueToken struct {
	ID     string
	Secret [opaqueSecretSize]byte
}

// NewOpaqueToken draws a fresh id and secret from crypto/rand.
func NewOpaqueToken() (OpaqueToken, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return OpaqueToken{}, err
	}
	var t OpaqueToken
	t.ID = base64.RawURLEncoding.EncodeToString(raw[:opaqueIDSize])
	copy(t.Secret[:], raw[opaqueIDSize:])
	return t, nil
}

// SecretHash is the digest stored alongside the record.
func (t OpaqueToken) SecretHash() [32]byte {
	return sha256.Sum256(t.Secret[:])
}

// String encodes the token for transport (URL-safe, unpadded).
func (t OpaqueToken) String() string {
	id, _ := base64.RawURLEncoding.DecodeString(t.ID)
	raw := make([]byte, 0, opaqueTokenSize)
	raw = append(raw, id...)
	raw = append(raw, t.Secret[:]...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseOpaqueToken reverses [OpaqueToken.String].
func ParseOpaqueToken(s string) (OpaqueToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != opaqueTokenSize {
		return OpaqueToken{}, ErrMalformedToken
	}
	var t OpaqueToken
	t.ID = base64.RawURLEncoding.EncodeToString(raw[:opaqueIDSize])
	copy(t.Secret[:], raw[opaqueIDSize:])
	return t, nil
}
