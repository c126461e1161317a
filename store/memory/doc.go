// Package memory provides process-local implementations of
// [spendauth.UserStore] and [spendauth.AuditRecorder].
//
// They back single-node development setups and tests. Nothing survives a
// restart.
package memory
