// Package jwt issues and verifies the access/refresh token pair used by
// spendauth sessions.
//
// Access and refresh tokens are signed with independent HMAC secrets, so a
// leaked access secret cannot mint refresh tokens. Verification tolerates a
// configurable clock skew and reports a tri-state [Status] so callers can tell
// "expired, try refresh" apart from "invalid, reject".
package jwt
