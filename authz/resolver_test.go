package authz

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

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

func newTestResolver(t *testing.T, cfg Config) (*Resolver, kvstore.Store, *testClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}

	store := kvstore.NewRedisStore(client, "test")
	return NewResolver(store, cfg), store, clock
}

func TestResolvePermissionsClosedTable(t *testing.T) {
	cases := []struct {
		roles []Role
		want  []string
	}{
		{[]Role{RoleSuperAdmin}, []string{"*"}},
		{[]Role{RoleSuperAdmin, RoleAdmin}, []string{"*"}},
		{[]Role{RoleAdmin}, []string{
			"access:admin-panel",
			"approve:mod",
			"delete:mod-any",
			"edit:mod-any",
			"manage:customers",
			"view:analytics",
		}},
		{[]Role{RoleCustomer}, []string{"download:mod", "view:mods"}},
		{[]Role{RoleUploader}, []string{"delete:mod-own", "edit:mod-own", "upload:mod"}},
		{[]Role{RolePremium}, []string{"delete:mod-own", "edit:mod-own", "upload:mod", "upload:music"}},
		{[]Role{RoleCustomer, RoleUploader}, []string{
			"delete:mod-own",
			"download:mod",
			"edit:mod-own",
			"upload:mod",
			"view:mods",
		}},
		{[]Role{Role("made-up")}, []string{}},
		{nil, []string{}},
	}

	for _, tc := range cases {
		got := ResolvePermissions(tc.roles)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("roles %v: expected %v, got %v", tc.roles, tc.want, got)
		}
	}
}

func TestPermissionGrantedWildcard(t *testing.T) {
	if !PermissionGranted([]string{"*"}, "anything:at-all") {
		t.Fatal("wildcard must grant everything")
	}
	if PermissionGranted([]string{"upload:mod"}, "delete:mod-any") {
		t.Fatal("specific grant must not cover other permissions")
	}
	if PermissionGranted(nil, "upload:mod") {
		t.Fatal("empty permission set must grant nothing")
	}
}

func TestEnsureCustomerPolicyDefaults(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{SuperAdminIDs: []string{"boss"}})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "boss", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	boss, err := r.ResolveFresh(ctx, "boss")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if !boss.HasRole(RoleSuperAdmin) || !boss.HasRole(RoleUploader) {
		t.Fatalf("expected super-admin plus uploader, got %v", boss.Roles)
	}

	alice, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if !alice.HasRole(RoleCustomer) || !alice.HasRole(RoleUploader) {
		t.Fatalf("expected customer plus uploader, got %v", alice.Roles)
	}
	if alice.HasRole(RoleSuperAdmin) {
		t.Fatal("regular tenants must not provision as super-admin")
	}
	if alice.Status != StatusActive {
		t.Fatalf("expected active status, got %s", alice.Status)
	}
	if alice.Version != 1 {
		t.Fatalf("expected version 1 after provisioning, got %d", alice.Version)
	}

	quota, ok := alice.Quotas[ResourceUploadMod]
	if !ok {
		t.Fatal("expected uploader quota to be assigned")
	}
	if quota.Limit != UploaderDailyUploads || quota.Period != PeriodDay {
		t.Fatalf("unexpected quota %+v", quota)
	}
}

func TestEnsureCustomerIdempotent(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.SetRoles(ctx, "alice", []Role{RolePremium}, "admin", "upgrade"); err != nil {
		t.Fatalf("SetRoles failed: %v", err)
	}

	// Re-provisioning must not clobber the mutated record.
	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if !auth.HasRole(RolePremium) {
		t.Fatalf("expected premium to survive re-provisioning, got %v", auth.Roles)
	}
}

func TestEnsureCustomerRejectsUnknownRole(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})

	err := r.EnsureCustomer(context.Background(), "alice", []Role{"viscount"})
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestResolveAbsentTenantYieldsEmptyRecord(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})

	auth, err := r.Resolve(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(auth.Roles) != 0 || len(auth.Permissions) != 0 {
		t.Fatalf("expected empty record, got %+v", auth)
	}
	if auth.Status != StatusActive {
		t.Fatalf("expected active status for empty record, got %s", auth.Status)
	}
}

func TestIsSuperAdminFailClosed(t *testing.T) {
	r, store, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if r.IsSuperAdmin(ctx, "nobody") {
		t.Fatal("unknown tenant must not be super-admin")
	}

	if err := r.EnsureCustomer(ctx, "strixun", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if !r.IsSuperAdmin(ctx, "strixun") {
		t.Fatal("built-in identifier must provision as super-admin")
	}

	// A corrupted record resolves to false, never to a grant.
	if err := store.Put(ctx, "customer:strixun", []byte("not json"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	r.invalidate("strixun")
	if r.IsSuperAdmin(ctx, "strixun") {
		t.Fatal("corrupted record must fail closed")
	}
}

func TestHasPermissionFailClosed(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	if !r.HasPermission(ctx, "alice", "upload:mod") {
		t.Fatal("uploader must hold upload:mod")
	}
	if r.HasPermission(ctx, "alice", "delete:mod-any") {
		t.Fatal("uploader must not hold admin permissions")
	}
	if r.HasPermission(ctx, "nobody", "view:mods") {
		t.Fatal("unprovisioned tenant must hold nothing")
	}
}

func TestSetRolesRecomputesPermissions(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", []Role{RoleCustomer}); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.SetRoles(ctx, "alice", []Role{RoleAdmin}, "boss", "promotion"); err != nil {
		t.Fatalf("SetRoles failed: %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	want := []string{
		"access:admin-panel",
		"approve:mod",
		"delete:mod-any",
		"edit:mod-any",
		"manage:customers",
		"view:analytics",
	}
	if !reflect.DeepEqual(auth.Permissions, want) {
		t.Fatalf("expected %v, got %v", want, auth.Permissions)
	}
}

func TestSetRolesUnknownTenant(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})

	err := r.SetRoles(context.Background(), "ghost", []Role{RoleAdmin}, "boss", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatusSuspend(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.SetStatus(ctx, "alice", StatusSuspended, "boss", "abuse"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if auth.Status != StatusSuspended {
		t.Fatalf("expected suspended, got %s", auth.Status)
	}

	if err := r.SetStatus(ctx, "alice", "deleted", "boss", ""); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestConsumeQuotaExhaustionNoDoubleCount(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	for i := 0; i < UploaderDailyUploads; i++ {
		if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); err != nil {
			t.Fatalf("consume %d failed: %v", i+1, err)
		}
	}

	// The 11th and every later attempt is denied without advancing Current.
	for i := 0; i < 3; i++ {
		if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if got := auth.Quotas[ResourceUploadMod].Current; got != UploaderDailyUploads {
		t.Fatalf("expected Current to stay at %d, got %d", UploaderDailyUploads, got)
	}
}

func TestConsumeQuotaWindowRollsOver(t *testing.T) {
	r, _, clock := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	for i := 0; i < UploaderDailyUploads; i++ {
		if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); err != nil {
			t.Fatalf("consume failed: %v", err)
		}
	}
	if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// Past the next UTC midnight the window resets lazily on consume.
	clock.Advance(24 * time.Hour)
	if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); err != nil {
		t.Fatalf("expected consume to succeed after rollover, got %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if got := auth.Quotas[ResourceUploadMod].Current; got != 1 {
		t.Fatalf("expected Current 1 after rollover, got %d", got)
	}
}

func TestConsumeQuotaUnassignedResourceDenied(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", []Role{RoleCustomer}); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	if err := r.ConsumeQuota(ctx, "alice", ResourceStorageMod); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for unassigned resource, got %v", err)
	}
}

func TestSetQuotaResetsWindow(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.ConsumeQuota(ctx, "alice", ResourceUploadMod); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if err := r.SetQuota(ctx, "alice", ResourceUploadMod, 3, PeriodDay, "boss", "downgrade"); err != nil {
		t.Fatalf("SetQuota failed: %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	quota := auth.Quotas[ResourceUploadMod]
	if quota.Limit != 3 || quota.Current != 0 {
		t.Fatalf("expected replaced quota with reset counter, got %+v", quota)
	}

	if err := r.SetQuota(ctx, "alice", ResourceUploadMod, -1, PeriodDay, "boss", ""); err == nil {
		t.Fatal("expected error for negative limit")
	}
	if err := r.SetQuota(ctx, "alice", ResourceUploadMod, 3, "fortnight", "boss", ""); err == nil {
		t.Fatal("expected error for unknown period")
	}
}

func TestPremiumQuotaDefaults(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", []Role{RolePremium}); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	auth, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}

	upload := auth.Quotas[ResourceUploadMod]
	if upload == nil || upload.Limit != PremiumDailyUploads || upload.Period != PeriodDay {
		t.Fatalf("unexpected upload quota %+v", upload)
	}
	storage := auth.Quotas[ResourceStorageMod]
	if storage == nil || storage.Limit != PremiumStorageMB || storage.Period != PeriodMonth {
		t.Fatalf("unexpected storage quota %+v", storage)
	}
}

func TestAuditTrailAppendOnly(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if err := r.SetRoles(ctx, "alice", []Role{RoleAdmin}, "boss", "promotion"); err != nil {
		t.Fatalf("SetRoles failed: %v", err)
	}
	if err := r.SetStatus(ctx, "alice", StatusSuspended, "boss", "abuse"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	trail, err := r.AuditTrail(ctx, "alice")
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(trail))
	}
	if trail[0].Action != "customer:provision" {
		t.Fatalf("expected provision first, got %s", trail[0].Action)
	}
	if trail[1].Action != "roles:set" || trail[1].PerformedBy != "boss" || trail[1].Reason != "promotion" {
		t.Fatalf("unexpected entry %+v", trail[1])
	}
	if trail[2].Action != "status:suspended" {
		t.Fatalf("unexpected entry %+v", trail[2])
	}
}

func TestResolveCacheStalenessAndFreshBypass(t *testing.T) {
	r, store, clock := newTestResolver(t, Config{CacheTTL: 5 * time.Minute})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}
	if _, err := r.Resolve(ctx, "alice"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// An out-of-band write is invisible to the cached read path.
	other := NewResolver(store, Config{Now: clock.Now})
	if err := other.SetStatus(ctx, "alice", StatusSuspended, "boss", ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	cached, err := r.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cached.Status != StatusActive {
		t.Fatal("expected cached read to serve the stale record")
	}

	fresh, err := r.ResolveFresh(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveFresh failed: %v", err)
	}
	if fresh.Status != StatusSuspended {
		t.Fatal("expected fresh read to see the authoritative record")
	}

	// After the TTL the cached path reloads on its own.
	if err := other.SetStatus(ctx, "alice", StatusActive, "boss", ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	clock.Advance(6 * time.Minute)
	reloaded, err := r.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if reloaded.Status != StatusActive {
		t.Fatal("expected expired cache entry to be refreshed")
	}
}

// racingStore injects a concurrent write between a mutation's read and its
// compare-and-swap.
func TestEnsureCustomerProvisionedReportsFirstCallOnly(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	provisioned, err := r.EnsureCustomerProvisioned(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("EnsureCustomerProvisioned failed: %v", err)
	}
	if !provisioned {
		t.Fatal("first call must report a fresh provision")
	}

	provisioned, err = r.EnsureCustomerProvisioned(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("EnsureCustomerProvisioned failed: %v", err)
	}
	if provisioned {
		t.Fatal("existing record must not report a provision")
	}
}

type racingStore struct {
	kvstore.Store
	raceKey string
	raced   bool
}

func (s *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
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

func TestMutationConflictSurfaces(t *testing.T) {
	r, store, clock := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "alice", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	racing := &racingStore{Store: store, raceKey: "customer:alice"}
	victim := NewResolver(racing, Config{Now: clock.Now})

	err := victim.SetStatus(ctx, "alice", StatusSuspended, "boss", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a lost swap, got %v", err)
	}
}

func TestImportLegacyAdmins(t *testing.T) {
	r, _, _ := newTestResolver(t, Config{})
	ctx := context.Background()

	if err := r.EnsureCustomer(ctx, "existing", nil); err != nil {
		t.Fatalf("EnsureCustomer failed: %v", err)
	}

	imported, err := r.ImportLegacyAdmins(ctx, []string{"legacy-1", "legacy-2", "existing", ""}, "migration")
	if err != nil {
		t.Fatalf("ImportLegacyAdmins failed: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imported, got %d", imported)
	}

	if !r.IsSuperAdmin(ctx, "legacy-1") {
		t.Fatal("imported identifier must be super-admin")
	}
	if r.IsSuperAdmin(ctx, "existing") {
		t.Fatal("existing record must be left untouched")
	}
}
