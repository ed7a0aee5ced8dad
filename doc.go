// Package authcore provides a multi-tenant identity core with RS256 token
// signing, per-tenant envelope-wrapped data keys, multi-stage payload
// encryption, role-based authorization with quotas, and API key lifecycle
// management over one shared key-value store.
//
// The package is designed for concurrent server workloads: Core methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Core], [Builder], [Config],
// and value types (MetricsSnapshot, AuditEvent, etc.). Domain subsystems
// live in their own packages — token, dek, envelope, authz, apikey — each
// usable standalone over a [kvstore.Store].
//
// # What this package must NOT do
//
//   - Expose plaintext secrets through read views; only Create, Rotate,
//     and Reveal ever return secret material.
//   - Leak validation detail across the trust boundary (token and
//     credential failures collapse to generic errors; the audit trail
//     carries the detail).
//   - Return a wrong or zeroed tenant key on store failure; key access
//     fails hard instead.
//
// # Performance contract
//
// ValidateToken is the hot path. It completes without store round-trips.
// Authorization reads are served from a bounded-staleness cache; every
// mutation goes through optimistic concurrency against the store.
package authcore
