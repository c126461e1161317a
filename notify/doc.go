// Package notify delivers outbound email and in-app notifications raised by
// the auth engine: new-device logins, lockouts, password changes, reset
// links and MFA changes.
//
// Delivery is best-effort. The engine logs and discards any error returned
// by a [Notifier].
package notify
