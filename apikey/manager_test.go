package apikey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/authz"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/dek"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *authz.Resolver, *testClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	store := kvstore.NewRedisStore(client, "test")

	keystore, err := dek.NewKeystore(store, "unit-test-master-secret")
	if err != nil {
		t.Fatalf("NewKeystore failed: %v", err)
	}
	resolver := authz.NewResolver(store, authz.Config{Now: clock.Now})
	manager := NewManager(store, keystore, resolver, Config{Now: clock.Now})

	return manager, resolver, clock
}

func TestCreateAndValidate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(created.KeyID, "key_") {
		t.Fatalf("unexpected key id %s", created.KeyID)
	}
	if !strings.HasPrefix(created.Secret, "sk_") {
		t.Fatalf("unexpected secret prefix %s", created.Secret)
	}

	key, err := m.Validate(ctx, "tenant-1", created.Secret)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if key.KeyID != created.KeyID {
		t.Fatalf("expected key %s, got %s", created.KeyID, key.KeyID)
	}
	if key.Status != StatusActive {
		t.Fatalf("expected active, got %s", key.Status)
	}

	if _, err := m.Validate(ctx, "tenant-1", "sk_wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := m.Validate(ctx, "tenant-1", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty secret, got %v", err)
	}
}

func TestCreateProvisionsTenant(t *testing.T) {
	m, resolver, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "tenant-1", "production"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	auth, err := resolver.ResolveFresh(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if !auth.HasRole(authz.RoleCustomer) {
		t.Fatalf("expected tenant to be provisioned, got %v", auth.Roles)
	}
}

func TestCreateDeniedForSuspendedTenant(t *testing.T) {
	m, resolver, _ := newTestManager(t)
	ctx := context.Background()

	if err := resolver.EnsureCustomer(ctx, "tenant-1", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := resolver.SetStatus(ctx, "tenant-1", authz.StatusSuspended, "boss", "abuse"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if _, err := m.Create(ctx, "tenant-1", "production"); !errors.Is(err, ErrTenantNotActive) {
		t.Fatalf("expected ErrTenantNotActive, got %v", err)
	}
}

func TestRotateGraceWindow(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	replacement, err := m.Rotate(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if replacement.KeyID == created.KeyID {
		t.Fatal("expected a fresh key id")
	}
	if replacement.Secret == created.Secret {
		t.Fatal("expected a fresh secret")
	}

	old, err := m.Get(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if old.Status != StatusRotated {
		t.Fatalf("expected rotated, got %s", old.Status)
	}
	if old.ReplacedBy != replacement.KeyID {
		t.Fatalf("expected replacedBy %s, got %s", replacement.KeyID, old.ReplacedBy)
	}

	// Both secrets validate inside the grace window.
	if _, err := m.Validate(ctx, "tenant-1", created.Secret); err != nil {
		t.Fatalf("old secret must validate during grace: %v", err)
	}
	if _, err := m.Validate(ctx, "tenant-1", replacement.Secret); err != nil {
		t.Fatalf("new secret must validate: %v", err)
	}

	// Past the window only the replacement survives.
	clock.Advance(DefaultRotationGrace + time.Hour)
	if _, err := m.Validate(ctx, "tenant-1", created.Secret); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old secret rejected after grace, got %v", err)
	}
	if _, err := m.Validate(ctx, "tenant-1", replacement.Secret); err != nil {
		t.Fatalf("new secret must still validate: %v", err)
	}
}

func TestRotateInactiveKey(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Rotate(ctx, "tenant-1", created.KeyID); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if _, err := m.Rotate(ctx, "tenant-1", created.KeyID); !errors.Is(err, ErrKeyInactive) {
		t.Fatalf("expected ErrKeyInactive for rotated key, got %v", err)
	}
	if _, err := m.Rotate(ctx, "tenant-1", "key_missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

// rotationRaceStore loses the rotation compare-and-swap by rewriting the
// raced record after its first read, and can fail the compensating delete.
type rotationRaceStore struct {
	kvstore.Store
	raceKey   string
	raced     bool
	deleteErr error
}

func (s *rotationRaceStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if key == s.raceKey && !s.raced {
		s.raced = true
		if err := s.Store.Put(ctx, key, append(append([]byte(nil), raw...), ' '), 0); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func (s *rotationRaceStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, key)
}

func newTestManagerOverStore(t *testing.T, wrap func(kvstore.Store) kvstore.Store) *Manager {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	store := wrap(kvstore.NewRedisStore(client, "test"))

	keystore, err := dek.NewKeystore(store, "unit-test-master-secret")
	if err != nil {
		t.Fatalf("NewKeystore failed: %v", err)
	}
	resolver := authz.NewResolver(store, authz.Config{Now: clock.Now})
	return NewManager(store, keystore, resolver, Config{Now: clock.Now})
}

func TestRotateConflictRemovesReplacement(t *testing.T) {
	racing := &rotationRaceStore{}
	m := newTestManagerOverStore(t, func(s kvstore.Store) kvstore.Store {
		racing.Store = s
		return racing
	})
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	racing.raceKey = "apikey:tenant-1:" + created.KeyID

	if _, err := m.Rotate(ctx, "tenant-1", created.KeyID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The replacement written before the lost swap is cleaned up again.
	keys, err := m.List(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected only the original key, got %d", len(keys))
	}
	if keys[0].KeyID != created.KeyID || keys[0].Status != StatusActive {
		t.Fatalf("expected original key untouched, got %+v", keys[0])
	}
}

func TestRotateConflictSurfacesFailedCleanup(t *testing.T) {
	racing := &rotationRaceStore{}
	m := newTestManagerOverStore(t, func(s kvstore.Store) kvstore.Store {
		racing.Store = s
		return racing
	})
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	racing.raceKey = "apikey:tenant-1:" + created.KeyID
	racing.deleteErr = errors.New("store offline")

	_, err = m.Rotate(ctx, "tenant-1", created.KeyID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "orphaned replacement key_") {
		t.Fatalf("expected the orphan id in the error, got %v", err)
	}
	if !strings.Contains(err.Error(), "store offline") {
		t.Fatalf("expected the cleanup failure in the error, got %v", err)
	}

	// The orphan could not be removed and remains visible to operators.
	keys, err := m.List(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected the orphan to remain listed, got %d keys", len(keys))
	}
}

func TestRotatePreservesSSO(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.UpdateSSO(ctx, "tenant-1", created.KeyID, SSOConfig{IsolationMode: IsolationComplete}); err != nil {
		t.Fatalf("UpdateSSO failed: %v", err)
	}

	replacement, err := m.Rotate(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	key, err := m.Get(ctx, "tenant-1", replacement.KeyID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key.SSO.IsolationMode != IsolationComplete {
		t.Fatalf("expected isolation carried over, got %s", key.SSO.IsolationMode)
	}
}

func TestRevokeImmediate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := m.Revoke(ctx, "tenant-1", created.KeyID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	// No grace period: the secret dies with the revocation.
	if _, err := m.Validate(ctx, "tenant-1", created.Secret); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected revoked secret rejected, got %v", err)
	}

	// Revoking again is a no-op.
	if err := m.Revoke(ctx, "tenant-1", created.KeyID); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	key, err := m.Get(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key.Status != StatusRevoked || key.RevokedAt == 0 {
		t.Fatalf("unexpected record %+v", key)
	}
}

func TestRevealSecret(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	secret, err := m.Reveal(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if secret != created.Secret {
		t.Fatal("expected revealed secret to match the created one")
	}

	if err := m.Revoke(ctx, "tenant-1", created.KeyID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := m.Reveal(ctx, "tenant-1", created.KeyID); !errors.Is(err, ErrKeyInactive) {
		t.Fatalf("expected ErrKeyInactive for revoked key, got %v", err)
	}
}

func TestListCarriesNoSecretMaterial(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "tenant-1", "first"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create(ctx, "tenant-1", "second"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Create(ctx, "tenant-2", "other"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	keys, err := m.List(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	for _, key := range keys {
		if key.CustomerID != "tenant-1" {
			t.Fatalf("listing leaked another tenant's key: %+v", key)
		}
	}
}

func TestGetOtherTenantKeyNotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := m.Get(ctx, "tenant-2", created.KeyID); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound across tenants, got %v", err)
	}
}

func TestUpdateSSOValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	keyA, err := m.Create(ctx, "tenant-1", "a")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	keyB, err := m.Create(ctx, "tenant-1", "b")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other, err := m.Create(ctx, "tenant-2", "foreign")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{
		IsolationMode: IsolationNone,
		AllowedKeyIDs: []string{keyB.KeyID},
	})
	if !errors.Is(err, ErrInvalidIsolation) {
		t.Fatalf("expected allow-list rejected outside selective mode, got %v", err)
	}

	err = m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{
		IsolationMode: IsolationSelective,
		AllowedKeyIDs: []string{other.KeyID},
	})
	if !errors.Is(err, ErrInvalidIsolation) {
		t.Fatalf("expected foreign key rejected from allow-list, got %v", err)
	}

	err = m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{IsolationMode: "partial"})
	if !errors.Is(err, ErrInvalidIsolation) {
		t.Fatalf("expected unknown mode rejected, got %v", err)
	}

	err = m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{
		IsolationMode: IsolationSelective,
		AllowedKeyIDs: []string{keyB.KeyID},
	})
	if err != nil {
		t.Fatalf("UpdateSSO failed: %v", err)
	}
}

func TestSessionVisibility(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	keyA, err := m.Create(ctx, "tenant-1", "a")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	keyB, err := m.Create(ctx, "tenant-1", "b")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	keyC, err := m.Create(ctx, "tenant-1", "c")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Default mode shares sessions across all of the tenant's keys.
	visible, err := m.SessionVisible(ctx, "tenant-1", keyA.KeyID, keyB.KeyID)
	if err != nil || !visible {
		t.Fatalf("expected visible under none, got %v %v", visible, err)
	}

	// Selective shares only with the allow-list.
	err = m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{
		IsolationMode: IsolationSelective,
		AllowedKeyIDs: []string{keyB.KeyID},
	})
	if err != nil {
		t.Fatalf("UpdateSSO failed: %v", err)
	}
	if visible, err = m.SessionVisible(ctx, "tenant-1", keyA.KeyID, keyB.KeyID); err != nil || !visible {
		t.Fatalf("expected key_B allowed, got %v %v", visible, err)
	}
	if visible, err = m.SessionVisible(ctx, "tenant-1", keyA.KeyID, keyC.KeyID); err != nil || visible {
		t.Fatalf("expected key_C denied, got %v %v", visible, err)
	}

	// Complete never shares, but a key always sees its own sessions.
	if err := m.UpdateSSO(ctx, "tenant-1", keyA.KeyID, SSOConfig{IsolationMode: IsolationComplete}); err != nil {
		t.Fatalf("UpdateSSO failed: %v", err)
	}
	if visible, err = m.SessionVisible(ctx, "tenant-1", keyA.KeyID, keyB.KeyID); err != nil || visible {
		t.Fatalf("expected denied under complete, got %v %v", visible, err)
	}
	if visible, err = m.SessionVisible(ctx, "tenant-1", keyA.KeyID, keyA.KeyID); err != nil || !visible {
		t.Fatalf("expected self always visible, got %v %v", visible, err)
	}
}

func TestValidateUpdatesLastUsed(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "tenant-1", "production")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := m.Validate(ctx, "tenant-1", created.Secret); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	key, err := m.Get(ctx, "tenant-1", created.KeyID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key.LastUsed != clock.Now().Unix() {
		t.Fatalf("expected LastUsed %d, got %d", clock.Now().Unix(), key.LastUsed)
	}
}
