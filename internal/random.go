// Package internal holds identifier and secret generation shared by the
// core components. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const apiSecretSize = 32

// NewAPIKeyID returns a new API key identifier: "key_" plus a dashless
// UUIDv4. Identifiers are not secret.
func NewAPIKeyID() string {
	return "key_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewAPISecret returns a new API key secret: "sk_" plus 32 random bytes,
// base64url-encoded without padding.
func NewAPISecret() (string, error) {
	raw := make([]byte, apiSecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashSecret returns the hex SHA-256 digest of a secret. Stored for
// validation so plaintext comparison never touches the store.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
