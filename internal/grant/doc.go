// Package grant mints and verifies room access grants.
//
// A grant is an HS256 JWT scoped to one room and one identity. It carries
// its own issue and expiry times and the join/publish/subscribe/data
// permissions, so whoever holds the secret can validate it without a lookup.
// The signer and verifier keep no per-grant state and are safe for
// concurrent use.
package grant
