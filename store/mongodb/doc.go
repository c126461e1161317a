// Package mongodb persists users, sessions and audit entries in MongoDB.
//
// Users and sessions live in their own collections keyed by string ids.
// Token digests, never raw tokens, are stored on session documents and
// indexed for the lookups the engine performs. Login history and the
// security log are append-only collections.
//
// Every backend failure is wrapped: session operations with
// [session.ErrUnavailable], user operations with
// [spendauth.ErrStoreUnavailable].
package mongodb
