// Package rate provides fixed-window request limiters keyed by client
// identity.
//
// Each [Limiter] instance guards one logical operation (login, signup,
// password reset, session polling). [Memory] keeps buckets in process and is
// suitable for a single instance; [Redis] shares counters across instances
// using INCR with an EXPIRE set on the first hit of each window.
//
// Rejections carry a RetryAfter equal to the window size.
package rate
