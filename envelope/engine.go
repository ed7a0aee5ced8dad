package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	stageKeySize = 32
	nonceSize    = 12
)

// Option configures an Engine.
type Option func(*Engine)

// WithAlgorithm selects the stage cipher used by Encrypt. Decrypt always
// honors the algorithm recorded in each stage.
func WithAlgorithm(alg string) Option {
	return func(e *Engine) { e.algorithm = alg }
}

// Engine applies and removes encryption stages. The zero value is not
// usable; construct with NewEngine. An Engine holds no key material and is
// safe for concurrent use.
type Engine struct {
	algorithm string
}

// NewEngine builds an Engine. The default stage cipher is AES-256-GCM.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{algorithm: AlgorithmAESGCM}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := newAEAD(e.algorithm, make([]byte, stageKeySize)); err != nil {
		return nil, err
	}
	return e, nil
}

// Encrypt serializes payload and wraps it in one AEAD stage per key,
// innermost stage first. The outermost envelope carries the legacy
// doubleEncrypted flag when exactly two stages are used.
func (e *Engine) Encrypt(payload any, keys [][]byte) (*Envelope, error) {
	if len(keys) == 0 {
		return nil, ErrNoStageKeys
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var env *Envelope
	for i, key := range keys {
		env, err = e.sealStage(plaintext, key, i+1)
		if err != nil {
			return nil, err
		}
		if i < len(keys)-1 {
			plaintext, err = json.Marshal(env)
			if err != nil {
				return nil, fmt.Errorf("encode stage %d: %w", i+1, err)
			}
		}
	}

	if len(keys) == 2 {
		env.DoubleEncrypted = true
	}
	return env, nil
}

// Decrypt removes every stage of env using keys supplied in the exact
// reverse order of encryption, and returns the payload bytes. A stage key
// omitted or out of order surfaces as ErrIntegrity; surplus keys surface as
// ErrFormat. No failure path returns plaintext-shaped data.
func (e *Engine) Decrypt(env *Envelope, keys [][]byte) ([]byte, error) {
	if len(keys) == 0 {
		return nil, ErrNoStageKeys
	}

	current := env
	for i, key := range keys {
		next, plaintext, err := e.DecryptStage(current, key)
		if err != nil {
			return nil, err
		}
		if plaintext != nil {
			if i < len(keys)-1 {
				return nil, fmt.Errorf("%w: more keys than stages", ErrFormat)
			}
			return plaintext, nil
		}
		current = next
	}

	return nil, fmt.Errorf("%w: stages remain after all keys consumed", ErrIntegrity)
}

// DecryptInto decrypts all stages and unmarshals the payload into out.
func (e *Engine) DecryptInto(env *Envelope, keys [][]byte, out any) error {
	plaintext, err := e.Decrypt(env, keys)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrFormat)
	}
	return nil
}

// DecryptStage removes exactly the outermost stage of env. When the result
// is itself an encrypted envelope it is returned as next and plaintext is
// nil — a first-class outcome for callers holding only one stage key, who
// forward the remainder to the next layer. Otherwise plaintext holds the
// fully decrypted payload bytes.
func (e *Engine) DecryptStage(env *Envelope, key []byte) (next *Envelope, plaintext []byte, err error) {
	if !IsEncrypted(env) {
		return nil, nil, fmt.Errorf("%w: not an encrypted envelope", ErrFormat)
	}
	if len(key) != stageKeySize {
		return nil, nil, ErrInvalidStageKey
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad iv encoding", ErrFormat)
	}
	if len(iv) != nonceSize {
		return nil, nil, fmt.Errorf("%w: bad iv length", ErrFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad ciphertext encoding", ErrFormat)
	}

	aead, err := newAEAD(env.Algorithm, key)
	if err != nil {
		return nil, nil, err
	}

	opened, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, nil, ErrIntegrity
	}

	if !stageWrapsEnvelope(env) {
		return nil, opened, nil
	}
	var inner Envelope
	if err := json.Unmarshal(opened, &inner); err != nil || !IsEncrypted(&inner) {
		return nil, nil, fmt.Errorf("%w: stage %d does not wrap an inner envelope", ErrFormat, env.Stage)
	}
	return &inner, nil, nil
}

// stageWrapsEnvelope reports whether the opened contents of env are another
// encryption stage rather than payload bytes. The Stage counter decides:
// the innermost stage is 1, so anything above it wraps an envelope. Content
// shape is never consulted, so a payload that happens to look like an
// envelope still round-trips. Legacy two-stage envelopes carry only the
// doubleEncrypted flag.
func stageWrapsEnvelope(e *Envelope) bool {
	return e.Stage > 1 || (e.Stage == 0 && e.DoubleEncrypted)
}

func (e *Engine) sealStage(plaintext, key []byte, stage int) (*Envelope, error) {
	if len(key) != stageKeySize {
		return nil, ErrInvalidStageKey
	}

	aead, err := newAEAD(e.algorithm, key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	ct := aead.Seal(nil, iv, plaintext, nil)

	return &Envelope{
		Algorithm:  e.algorithm,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Encrypted:  true,
		Stage:      stage,
	}, nil
}

func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != stageKeySize {
		return nil, ErrInvalidStageKey
	}

	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrFormat, algorithm)
	}
}
