// Package assertion mints and parses short-lived step-up tokens that record
// which second factor a user just satisfied. Tokens carry sub, amr, iat, exp
// and an optional aud, and are signed with HS256 or Ed25519.
package assertion
