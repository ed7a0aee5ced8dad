package dek

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
)

const (
	// KeySize is the size of a tenant DEK in bytes.
	KeySize = 32
	// MinSecretLength is the shortest accepted master secret.
	MinSecretLength = 16

	ivSize        = 12
	recordVersion = 1
	keyPrefix     = "dek:"
)

var (
	// ErrInvalidSecret is returned when the master secret is absent or
	// shorter than MinSecretLength characters.
	ErrInvalidSecret = errors.New("master secret missing or too short")
	// ErrRecordFormat is returned when a persisted DEK record cannot be
	// decoded or carries an incompatible version.
	ErrRecordFormat = errors.New("malformed dek record")
	// ErrUnwrap is returned when the stored ciphertext does not
	// authenticate under the derived master key.
	ErrUnwrap = errors.New("dek unwrap failed")
)

// Record is the persisted envelope of one tenant DEK. Only ciphertext is
// stored; the IV is fresh per encryption.
type Record struct {
	Version    int    `json:"version"`
	CreatedAt  int64  `json:"createdAt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// Keystore derives the master key once and serves tenant DEKs from the
// shared persistent store. Immutable after construction.
type Keystore struct {
	store  kvstore.Store
	master [sha256.Size]byte
	now    func() time.Time
}

// NewKeystore derives an AES-GCM master key from SHA-256(secret). The
// secret must be at least MinSecretLength characters.
func NewKeystore(store kvstore.Store, secret string) (*Keystore, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrInvalidSecret
	}
	return &Keystore{
		store:  store,
		master: sha256.Sum256([]byte(secret)),
		now:    time.Now,
	}, nil
}

// TenantKey returns the tenant's 32-byte DEK, minting and persisting one on
// first access. Callers must already be authenticated; this type performs
// no caller checks of its own. Store failures propagate wrapped — a wrong
// or zeroed key is never returned.
func (k *Keystore) TenantKey(ctx context.Context, tenantID string) ([]byte, error) {
	key, _, err := k.TenantKeyMinted(ctx, tenantID)
	return key, err
}

// TenantKeyMinted behaves like TenantKey and additionally reports whether
// this call minted the key.
func (k *Keystore) TenantKeyMinted(ctx context.Context, tenantID string) ([]byte, bool, error) {
	if tenantID == "" {
		return nil, false, errors.New("tenant id required")
	}

	storeKey := keyPrefix + tenantID

	data, err := k.store.Get(ctx, storeKey)
	if err == nil {
		key, err := k.unwrap(data)
		return key, false, err
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, fmt.Errorf("read dek record: %w", err)
	}

	plaintext := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, false, fmt.Errorf("generate dek: %w", err)
	}

	record, err := k.wrap(plaintext)
	if err != nil {
		return nil, false, err
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("encode dek record: %w", err)
	}

	created, err := k.store.PutIfAbsent(ctx, storeKey, encoded, 0)
	if err != nil {
		return nil, false, fmt.Errorf("persist dek record: %w", err)
	}
	if created {
		return plaintext, true, nil
	}

	// Lost the first-creation race; the winner's record is authoritative.
	data, err = k.store.Get(ctx, storeKey)
	if err != nil {
		return nil, false, fmt.Errorf("read dek record: %w", err)
	}
	key, err := k.unwrap(data)
	return key, false, err
}

func (k *Keystore) wrap(plaintext []byte) (*Record, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	ct := aead.Seal(nil, iv, plaintext, nil)

	return &Record{
		Version:    recordVersion,
		CreatedAt:  k.now().Unix(),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

func (k *Keystore) unwrap(data []byte) ([]byte, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordFormat, err)
	}
	if record.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrRecordFormat, record.Version)
	}

	iv, err := base64.StdEncoding.DecodeString(record.IV)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad iv", ErrRecordFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrRecordFormat)
	}

	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrUnwrap
	}
	if len(plaintext) != KeySize {
		return nil, fmt.Errorf("%w: unexpected key size", ErrRecordFormat)
	}
	return plaintext, nil
}

func (k *Keystore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.master[:])
	if err != nil {
		return nil, fmt.Errorf("create master cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
