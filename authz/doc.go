// Package authz persists and resolves each tenant's roles, permissions,
// and quotas with an append-only audit trail.
//
// Permissions are always a deterministic function of roles through a closed
// role table — they are recomputed on every resolve and never trusted from
// storage. Authorization checks fail closed: any lookup error reads as
// "denied". Resolved records pass through a short-TTL read-through cache
// that is explicitly non-authoritative; callers needing a strongly
// consistent read use ResolveFresh.
package authz
