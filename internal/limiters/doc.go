// Package limiters holds per-account abuse policies that sit above the
// per-client rate limiters in internal/rate.
//
// [LockoutPolicy] counts consecutive failed logins on the user record and
// locks the account for a fixed duration once the threshold is reached. An
// expired lock is cleared lazily on the next attempt.
//
// All methods are nil-safe. This package decides lockout state only; the
// engine decides what a locked verdict means for the response.
package limiters
