// Package apikey manages tenant-issued API credentials: creation, rotation
// with a bounded overlap window, immediate revocation, and cross-key
// session visibility (SSO isolation).
//
// Each credential is a single addressable record carrying an optimistic
// version; rotation, revocation, and SSO updates go through
// compare-and-swap writes so a concurrent mutation surfaces as a conflict
// instead of a lost update. Plaintext secrets leave this package exactly
// once — at creation, rotation, or an explicit reveal.
package apikey
