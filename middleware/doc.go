// Package middleware adapts a [spendauth.Engine] to net/http.
//
// # Guards
//
//   - [Guard] authenticates the request from the access-token cookie or a
//     Bearer header and stores the [spendauth.AuthResult] in the context.
//   - [RequireStrict] additionally rejects requests admitted on the token
//     signature alone while the session store is down.
//   - [RequireRole] rejects callers whose role is not listed.
//   - [RateLimit] consumes one request from a named engine limiter.
//
// [Client] attaches the caller's IP, User-Agent and edge geolocation so the
// engine can derive the device descriptor.
//
// Responses use the JSON envelope written by [Respond] and [RespondError].
//
// # What this package must NOT do
//
//   - Parse or sign JWTs (the engine owns tokens).
//   - Access Redis or the user store directly.
//   - Decide authentication outcomes beyond mapping engine errors to HTTP.
package middleware
