// Package spendauth implements authentication and session lifecycle for the
// Spendwise expense tracker.
//
// An [Engine] is assembled with a [Builder] and owns the hot paths: login
// with lockout and optional TOTP/backup-code second factor, dual-token
// issuance, fixed-expiry sessions with same-device replacement, request
// authentication through a short-lived validation cache, and refresh with
// tolerant recovery from concurrent rotations. Sensitive account actions
// are gated on the age of the caller's session.
//
// User records live behind [UserStore]; sessions behind [session.Store].
// Rate limiters and the validation cache run in process by default and can
// be moved to Redis for multi-instance deployments.
package spendauth
