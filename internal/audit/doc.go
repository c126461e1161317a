// Package audit records the write-once login history and security log.
//
// The engine hands entries to a [Dispatcher], which forwards them to a
// [Recorder] on a background goroutine. Recording is best-effort: a full
// buffer drops the entry (counted) and recorder failures are logged, never
// surfaced to the request that produced them.
//
// This package does not decide which events to emit; the engine does.
package audit
