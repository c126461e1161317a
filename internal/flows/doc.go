// Package flows contains the request orchestrators behind the Engine's
// hot paths: login, access-token validation and refresh rotation.
//
// Each Run function takes a typed dependency struct and returns a result
// value carrying a failure kind; the root package maps kinds to its public
// errors, metrics and audit events. Flows hold no state between calls and
// never import the root package.
package flows
