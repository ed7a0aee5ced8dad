package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage cipher identifiers carried in the envelope wire shape.
const (
	AlgorithmAESGCM   = "AES-GCM"
	AlgorithmChaCha20 = "CHACHA20-POLY1305"
)

var (
	// ErrIntegrity is returned when an AEAD authentication tag does not
	// verify: wrong key, wrong stage order, or tampered ciphertext.
	ErrIntegrity = errors.New("envelope integrity check failed")
	// ErrFormat is returned when the envelope structure itself is invalid.
	ErrFormat = errors.New("malformed envelope")
	// ErrInvalidStageKey is returned for keys that are not 32 bytes.
	ErrInvalidStageKey = errors.New("stage key must be 32 bytes")
	// ErrNoStageKeys is returned when no keys are supplied.
	ErrNoStageKeys = errors.New("at least one stage key required")
)

// Envelope is the wire shape of one encryption stage. Stage counts layers
// from the inside out: the innermost stage is 1, so the outermost Stage
// value equals the total number of stages applied.
type Envelope struct {
	Algorithm       string `json:"algorithm"`
	IV              string `json:"iv"`
	Ciphertext      string `json:"ciphertext"`
	Encrypted       bool   `json:"encrypted"`
	DoubleEncrypted bool   `json:"doubleEncrypted,omitempty"`
	Stage           int    `json:"stage,omitempty"`
}

// IsEncrypted reports whether v has the structural shape of an encrypted
// envelope. It requires no key material.
func IsEncrypted(e *Envelope) bool {
	return e != nil && e.Encrypted && e.Algorithm != "" && e.IV != "" && e.Ciphertext != ""
}

// IsDoubleEncrypted reports whether exactly two stages are present. The
// name is kept for compatibility with the two-party wire flag.
func IsDoubleEncrypted(e *Envelope) bool {
	return IsEncrypted(e) && (e.DoubleEncrypted || e.Stage == 2)
}

// IsMultiEncrypted reports whether two or more stages are present.
func IsMultiEncrypted(e *Envelope) bool {
	return IsEncrypted(e) && (e.Stage >= 2 || e.DoubleEncrypted)
}

// Parse decodes raw JSON into an Envelope, rejecting anything without the
// structural envelope shape.
func Parse(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !IsEncrypted(&e) {
		return nil, fmt.Errorf("%w: missing required fields", ErrFormat)
	}
	return &e, nil
}
