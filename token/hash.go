package token

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashClaim computes the OIDC at_hash/c_hash value for a token or code:
// the left half of the SHA-256 digest of the UTF-8 bytes of value,
// base64url-encoded without padding.
func HashClaim(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:sha256.Size/2])
}
