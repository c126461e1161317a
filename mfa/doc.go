// Package mfa implements the second login factor: RFC 6238 TOTP codes and
// single-use backup codes.
//
// Backup codes are shown to the user once, formatted as two halves joined by
// "-", and only their SHA-256 digests (salted with the user id) are stored.
// The "-" separator is also how a login code is classified: six digits are a
// TOTP code, anything containing "-" is a backup code.
package mfa
