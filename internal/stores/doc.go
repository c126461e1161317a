// Package stores provides Redis-backed, short-lived records for recovery and
// enrollment flows: password reset tokens and pending MFA enrollments.
//
// Mutations that must be single-use (Consume) run under WATCH/MULTI with
// bounded retry on contention. Secret comparisons are constant time and only
// digests are stored.
//
// This package owns persistence and concurrency control. It does not
// generate secrets or decide what a failure means for the caller.
package stores
