// Package token implements the signing authority for compact RS256 session
// tokens: private JWK loading, claim signing and verification, the published
// JWKS document, OIDC-style hash claims, and discovery metadata.
//
// An [Authority] is immutable after construction and safe for unlimited
// concurrent readers. Verification failures collapse to a nil claim set so
// callers can never mistake a thrown error for a passed check.
package token
