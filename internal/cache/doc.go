// Package cache memoizes recent session validity checks keyed by the
// SHA-256 digest of an access token.
//
// Entries live for a short TTL (10s by default). Revocation must call Evict
// for a single session or Purge for bulk revocation so a revoked token is
// rejected immediately instead of at TTL expiry.
package cache
