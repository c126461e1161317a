// Package httpapi serves the /auth endpoints of a [spendauth.Engine] over
// HTTP using chi.
//
// Every response uses the envelope of package middleware. Token cookies are
// set on login, signup and refresh and cleared on logout and on any 401.
package httpapi
