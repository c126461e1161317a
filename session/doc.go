// Package session defines the server-side session record and its persistence.
//
// A session binds one token pair to a user, a device descriptor and a fixed
// expiry. The [Store] interface is the authoritative record set; [RedisStore]
// implements it on Redis and store/mongodb implements it on a document
// database. Tokens are never persisted in clear: records carry SHA-256 digests
// and lookups hash the presented token first.
//
// This package does not interpret JWTs or make authentication decisions. It
// must not import spendauth or jwt.
package session
