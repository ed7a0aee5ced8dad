// Package envelope implements multi-party payload encryption: a JSON
// payload is wrapped in 1..N AEAD stages, each removable only by the holder
// of that stage's key. Intermediate services can add a stage on top of an
// already-encrypted envelope without seeing its contents, and a holder of a
// single stage key can peel exactly that stage and forward the remainder.
//
// Stage ciphers are AES-256-GCM (default) and ChaCha20-Poly1305. A failed
// authentication tag is reported as ErrIntegrity, a malformed envelope as
// ErrFormat; neither path ever yields plaintext-shaped output.
package envelope
