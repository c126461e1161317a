// Package internal holds helpers shared by the spendauth engine and its
// internal sub-packages. Nothing here is part of the public API.
package internal
