// Package password hashes and verifies login credentials with bcrypt.
//
// The default cost factor is 12. [Hasher.NeedsRehash] reports hashes produced
// at a different cost so callers can upgrade them after a successful login.
//
// This package owns hashing only. Password policy (minimum length) is enforced
// by the engine, and plaintext is never stored or logged here.
package password
