package apikey

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/authz"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/dek"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/internal"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
)

// DefaultRotationGrace is the documented overlap window during which both
// the rotated-out and replacement secrets validate.
const DefaultRotationGrace = 7 * 24 * time.Hour

const (
	recordPrefix = "apikey:"
	ivSize       = 12
)

var (
	// ErrKeyNotFound is returned when the tenant owns no key by that id.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrInvalidCredentials is returned when no valid key matches a
	// presented secret.
	ErrInvalidCredentials = errors.New("invalid api credentials")
	// ErrKeyInactive is returned by mutations targeting a rotated or
	// revoked key.
	ErrKeyInactive = errors.New("api key not active")
	// ErrConflict is returned when a mutation loses a compare-and-swap
	// race against a concurrent writer.
	ErrConflict = errors.New("concurrent api key modification")
	// ErrInvalidIsolation is returned for malformed SSO updates, including
	// allow-lists naming keys outside the tenant.
	ErrInvalidIsolation = errors.New("invalid sso isolation config")
	// ErrTenantNotActive is returned when the owning tenant's
	// authorization record is suspended or cancelled.
	ErrTenantNotActive = errors.New("tenant authorization not active")
)

// Config carries lifecycle policy.
type Config struct {
	// RotationGrace overrides DefaultRotationGrace when positive.
	RotationGrace time.Duration
	// Now overrides the clock. Nil means time.Now; tests inject here.
	Now func() time.Time
}

// Manager owns the API key lifecycle for all tenants. Ownership and tenant
// standing are checked through the authorization resolver; secrets are
// protected under each tenant's DEK. Safe for concurrent use.
type Manager struct {
	store    kvstore.Store
	keys     *dek.Keystore
	resolver *authz.Resolver
	grace    time.Duration
	now      func() time.Time
}

// NewManager builds a Manager over the shared store.
func NewManager(store kvstore.Store, keys *dek.Keystore, resolver *authz.Resolver, cfg Config) *Manager {
	grace := cfg.RotationGrace
	if grace <= 0 {
		grace = DefaultRotationGrace
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    store,
		keys:     keys,
		resolver: resolver,
		grace:    grace,
		now:      now,
	}
}

// Create issues a new key for the tenant. The plaintext secret is returned
// here and never again outside Rotate or Reveal.
func (m *Manager) Create(ctx context.Context, tenantID, name string) (*CreatedKey, error) {
	if tenantID == "" || name == "" {
		return nil, errors.New("tenant id and key name required")
	}
	if err := m.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	record, secret, err := m.newRecord(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if err := m.putNew(ctx, record); err != nil {
		return nil, err
	}

	return &CreatedKey{KeyID: record.KeyID, Secret: secret}, nil
}

// Rotate replaces keyID with a fresh credential. The old record moves to
// rotated and points at its replacement; both secrets validate until the
// grace window closes. The overlap is a deliberate correctness contract.
func (m *Manager) Rotate(ctx context.Context, tenantID, keyID string) (*CreatedKey, error) {
	if err := m.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	old, oldRaw, err := m.load(ctx, tenantID, keyID)
	if err != nil {
		return nil, err
	}
	if old.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrKeyInactive, old.Status)
	}

	replacement, secret, err := m.newRecord(ctx, tenantID, old.Name)
	if err != nil {
		return nil, err
	}
	replacement.SSO = old.SSO

	// The replacement lands first; the old record is then swapped to
	// rotated. If the swap loses to a concurrent mutation the replacement
	// is removed again, so a conflict never leaves a half-rotated pair.
	if err := m.putNew(ctx, replacement); err != nil {
		return nil, err
	}

	rotated := *old
	rotated.Status = StatusRotated
	rotated.RotatedAt = m.now().Unix()
	rotated.ReplacedBy = replacement.KeyID
	rotated.Version++

	swapped, err := m.swap(ctx, tenantID, keyID, oldRaw, &rotated)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// A failed cleanup strands an active record whose secret no caller
		// ever received; the id rides the error so operators can remove it.
		if err := m.store.Delete(ctx, recordKey(tenantID, replacement.KeyID)); err != nil {
			return nil, fmt.Errorf("%w: orphaned replacement %s: %v", ErrConflict, replacement.KeyID, err)
		}
		return nil, ErrConflict
	}

	return &CreatedKey{KeyID: replacement.KeyID, Secret: secret}, nil
}

// Revoke invalidates keyID immediately, with no grace period. Revoking an
// already revoked key is a no-op.
func (m *Manager) Revoke(ctx context.Context, tenantID, keyID string) error {
	record, raw, err := m.load(ctx, tenantID, keyID)
	if err != nil {
		return err
	}
	if record.Status == StatusRevoked {
		return nil
	}

	revoked := *record
	revoked.Status = StatusRevoked
	revoked.RevokedAt = m.now().Unix()
	revoked.Version++

	swapped, err := m.swap(ctx, tenantID, keyID, raw, &revoked)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrConflict
	}
	return nil
}

// Validate matches a presented secret against the tenant's keys. Active
// keys always match; rotated keys match until their grace window closes;
// revoked keys never match. LastUsed is updated best-effort.
func (m *Manager) Validate(ctx context.Context, tenantID, secret string) (*Key, error) {
	if secret == "" {
		return nil, ErrInvalidCredentials
	}
	hash := internal.HashSecret(secret)

	var match *Record
	err := m.eachRecord(ctx, tenantID, func(record *Record) bool {
		if record.SecretHash != hash {
			return true
		}
		match = record
		return false
	})
	if err != nil {
		return nil, err
	}
	if match == nil || !m.secretUsable(match) {
		return nil, ErrInvalidCredentials
	}

	m.touch(ctx, match)
	view := match.view()
	return &view, nil
}

// Get returns the read view of one key. No secret material.
func (m *Manager) Get(ctx context.Context, tenantID, keyID string) (*Key, error) {
	record, _, err := m.load(ctx, tenantID, keyID)
	if err != nil {
		return nil, err
	}
	view := record.view()
	return &view, nil
}

// List returns read views of all of the tenant's keys. No secret material.
func (m *Manager) List(ctx context.Context, tenantID string) ([]Key, error) {
	var keys []Key
	err := m.eachRecord(ctx, tenantID, func(record *Record) bool {
		keys = append(keys, record.view())
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Reveal decrypts and returns the plaintext secret of an active key. This
// is the only read path that exposes secret material.
func (m *Manager) Reveal(ctx context.Context, tenantID, keyID string) (string, error) {
	record, _, err := m.load(ctx, tenantID, keyID)
	if err != nil {
		return "", err
	}
	if record.Status == StatusRevoked {
		return "", fmt.Errorf("%w: revoked", ErrKeyInactive)
	}

	tenantKey, err := m.keys.TenantKey(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return decryptSecret(tenantKey, record.SecretIV, record.SecretCiphertext)
}

// UpdateSSO replaces the key's isolation policy. Selective allow-lists may
// name only keys belonging to the same tenant.
func (m *Manager) UpdateSSO(ctx context.Context, tenantID, keyID string, sso SSOConfig) error {
	switch sso.IsolationMode {
	case IsolationNone, IsolationComplete:
		if len(sso.AllowedKeyIDs) != 0 {
			return fmt.Errorf("%w: allow-list only valid in selective mode", ErrInvalidIsolation)
		}
	case IsolationSelective:
		for _, allowed := range sso.AllowedKeyIDs {
			if allowed == keyID {
				continue
			}
			if _, err := m.store.Get(ctx, recordKey(tenantID, allowed)); err != nil {
				if errors.Is(err, kvstore.ErrNotFound) {
					return fmt.Errorf("%w: %q is not a key of this tenant", ErrInvalidIsolation, allowed)
				}
				return fmt.Errorf("read api key: %w", err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidIsolation, sso.IsolationMode)
	}

	record, raw, err := m.load(ctx, tenantID, keyID)
	if err != nil {
		return err
	}

	updated := *record
	updated.SSO = sso
	updated.Version++

	swapped, err := m.swap(ctx, tenantID, keyID, raw, &updated)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrConflict
	}
	return nil
}

// SessionVisible reports whether a session created under ownerKeyID is
// visible to a request bearing requesterKeyID, per the owner's isolation
// mode. A key always sees its own sessions.
func (m *Manager) SessionVisible(ctx context.Context, tenantID, ownerKeyID, requesterKeyID string) (bool, error) {
	if ownerKeyID == requesterKeyID {
		return true, nil
	}

	owner, _, err := m.load(ctx, tenantID, ownerKeyID)
	if err != nil {
		return false, err
	}

	switch owner.SSO.IsolationMode {
	case IsolationComplete:
		return false, nil
	case IsolationSelective:
		for _, allowed := range owner.SSO.AllowedKeyIDs {
			if allowed == requesterKeyID {
				return true, nil
			}
		}
		return false, nil
	default:
		return true, nil
	}
}

func (m *Manager) checkTenant(ctx context.Context, tenantID string) error {
	if err := m.resolver.EnsureCustomer(ctx, tenantID, nil); err != nil {
		return err
	}
	auth, err := m.resolver.ResolveFresh(ctx, tenantID)
	if err != nil {
		return err
	}
	if auth.Status != authz.StatusActive {
		return ErrTenantNotActive
	}
	return nil
}

func (m *Manager) newRecord(ctx context.Context, tenantID, name string) (*Record, string, error) {
	secret, err := internal.NewAPISecret()
	if err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}

	tenantKey, err := m.keys.TenantKey(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	iv, ciphertext, err := encryptSecret(tenantKey, secret)
	if err != nil {
		return nil, "", err
	}

	return &Record{
		KeyID:            internal.NewAPIKeyID(),
		CustomerID:       tenantID,
		Name:             name,
		Status:           StatusActive,
		SSO:              SSOConfig{IsolationMode: IsolationNone},
		SecretIV:         iv,
		SecretCiphertext: ciphertext,
		SecretHash:       internal.HashSecret(secret),
		CreatedAt:        m.now().Unix(),
		Version:          1,
	}, secret, nil
}

func (m *Manager) putNew(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode api key record: %w", err)
	}
	created, err := m.store.PutIfAbsent(ctx, recordKey(record.CustomerID, record.KeyID), data, 0)
	if err != nil {
		return fmt.Errorf("persist api key record: %w", err)
	}
	if !created {
		return fmt.Errorf("api key id collision: %s", record.KeyID)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, tenantID, keyID string) (*Record, []byte, error) {
	raw, err := m.store.Get(ctx, recordKey(tenantID, keyID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil, ErrKeyNotFound
		}
		return nil, nil, fmt.Errorf("read api key record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, nil, fmt.Errorf("decode api key record: %w", err)
	}
	return &record, raw, nil
}

func (m *Manager) swap(ctx context.Context, tenantID, keyID string, oldRaw []byte, updated *Record) (bool, error) {
	data, err := json.Marshal(updated)
	if err != nil {
		return false, fmt.Errorf("encode api key record: %w", err)
	}
	swapped, err := m.store.CompareAndSwap(ctx, recordKey(tenantID, keyID), oldRaw, data, 0)
	if err != nil {
		return false, fmt.Errorf("persist api key record: %w", err)
	}
	return swapped, nil
}

// eachRecord walks the tenant's key records, stopping when fn returns false.
func (m *Manager) eachRecord(ctx context.Context, tenantID string, fn func(*Record) bool) error {
	prefix := recordPrefix + tenantID + ":"
	var cursor uint64
	for {
		keys, next, err := m.store.List(ctx, prefix, cursor, 100)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		for _, storeKey := range keys {
			raw, err := m.store.Get(ctx, storeKey)
			if err != nil {
				if errors.Is(err, kvstore.ErrNotFound) {
					continue
				}
				return fmt.Errorf("read api key record: %w", err)
			}
			var record Record
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode api key record: %w", err)
			}
			if !fn(&record) {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (m *Manager) secretUsable(record *Record) bool {
	switch record.Status {
	case StatusActive:
		return true
	case StatusRotated:
		return m.now().Unix() < record.RotatedAt+int64(m.grace.Seconds())
	default:
		return false
	}
}

// touch updates LastUsed. Best-effort: a lost race with a concurrent
// mutation is acceptable for a usage timestamp.
func (m *Manager) touch(ctx context.Context, record *Record) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	updated := *record
	updated.LastUsed = m.now().Unix()
	data, err := json.Marshal(&updated)
	if err != nil {
		return
	}
	_, _ = m.store.CompareAndSwap(ctx, recordKey(record.CustomerID, record.KeyID), raw, data, 0)
}

func recordKey(tenantID, keyID string) string {
	return recordPrefix + tenantID + ":" + keyID
}

func encryptSecret(key []byte, secret string) (ivB64, ctB64 string, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	ct := aead.Seal(nil, iv, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(iv), base64.StdEncoding.EncodeToString(ct), nil
}

func decryptSecret(key []byte, ivB64, ctB64 string) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(iv) != ivSize {
		return "", errors.New("malformed api key record: bad iv")
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", errors.New("malformed api key record: bad ciphertext")
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	secret, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", errors.New("api key secret unwrap failed")
	}
	return string(secret), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
