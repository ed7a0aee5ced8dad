// Package dek manages per-tenant data-encryption keys. Each tenant's
// 32-byte DEK is minted lazily on first access, envelope-encrypted under a
// master key derived from a shared secret, and persisted; plaintext DEK
// bytes are never written to the store. First creation goes through a
// create-if-absent write so two concurrent first accesses converge on a
// single persisted key.
package dek
