package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// MinModulusBits is the smallest RSA modulus accepted for signing keys.
const MinModulusBits = 2048

var (
	// ErrInvalidSigningKey is returned when the private JWK is absent,
	// malformed, or missing required private components.
	ErrInvalidSigningKey = errors.New("invalid signing key")
	// ErrKeyTooSmall is returned when the RSA modulus is below MinModulusBits.
	ErrKeyTooSmall = errors.New("signing key modulus below 2048 bits")
)

type jwkFields struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
	Dp  string `json:"dp,omitempty"`
	Dq  string `json:"dq,omitempty"`
	Qi  string `json:"qi,omitempty"`
}

// PublicJWK is one publishable entry of the key-set document. It carries no
// private material.
type PublicJWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the published key-set document.
type JWKS struct {
	Keys []PublicJWK `json:"keys"`
}

// ParsePrivateJWK decodes an RSA private key from its JWK form. The key must
// declare kty "RSA", carry n, e, d, p, and q, and meet the minimum modulus
// size. CRT values are recomputed rather than trusted from the document.
func ParsePrivateJWK(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidSigningKey)
	}

	var f jwkFields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	if f.Kty != "RSA" {
		return nil, fmt.Errorf("%w: unsupported kty %q", ErrInvalidSigningKey, f.Kty)
	}
	if f.N == "" || f.E == "" || f.D == "" || f.P == "" || f.Q == "" {
		return nil, fmt.Errorf("%w: missing required components", ErrInvalidSigningKey)
	}

	n, err := decodeBig(f.N)
	if err != nil {
		return nil, fmt.Errorf("%w: bad n: %v", ErrInvalidSigningKey, err)
	}
	e, err := decodeBig(f.E)
	if err != nil {
		return nil, fmt.Errorf("%w: bad e: %v", ErrInvalidSigningKey, err)
	}
	d, err := decodeBig(f.D)
	if err != nil {
		return nil, fmt.Errorf("%w: bad d: %v", ErrInvalidSigningKey, err)
	}
	p, err := decodeBig(f.P)
	if err != nil {
		return nil, fmt.Errorf("%w: bad p: %v", ErrInvalidSigningKey, err)
	}
	q, err := decodeBig(f.Q)
	if err != nil {
		return nil, fmt.Errorf("%w: bad q: %v", ErrInvalidSigningKey, err)
	}

	if n.BitLen() < MinModulusBits {
		return nil, ErrKeyTooSmall
	}
	if !e.IsInt64() {
		return nil, fmt.Errorf("%w: exponent out of range", ErrInvalidSigningKey)
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	key.Precompute()

	return key, nil
}

// DeriveKeyID computes the deterministic key identifier: the first 8 hex
// characters of the RFC 7638 SHA-256 thumbprint over the canonical
// {e, kty, n} tuple.
func DeriveKeyID(pub *rsa.PublicKey) string {
	canonical := fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, encodeBig(big.NewInt(int64(pub.E))), encodeBig(pub.N))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:8]
}

// DerivePublicJWK strips private fields and returns the publishable key-set
// entry for pub, with its deterministic kid assigned.
func DerivePublicJWK(pub *rsa.PublicKey) PublicJWK {
	return PublicJWK{
		Kty: "RSA",
		Kid: DeriveKeyID(pub),
		Use: "sig",
		Alg: "RS256",
		N:   encodeBig(pub.N),
		E:   encodeBig(big.NewInt(int64(pub.E))),
	}
}

func decodeBig(s string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty component")
	}
	return new(big.Int).SetBytes(raw), nil
}

func encodeBig(v *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(v.Bytes())
}
