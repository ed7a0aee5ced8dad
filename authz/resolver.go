package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
)

const (
	customerPrefix = "customer:"

	// DefaultCacheTTL bounds staleness of the read-through tenant cache.
	DefaultCacheTTL = 5 * time.Minute
)

var (
	// ErrQuotaExceeded signals a denied quota consumption. The counter is
	// not advanced on a denied attempt.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUnknownRole is returned by mutations naming a role outside the
	// closed role table.
	ErrUnknownRole = errors.New("unknown role")
	// ErrConflict is returned when a mutation loses a compare-and-swap
	// race against a concurrent writer.
	ErrConflict = errors.New("concurrent modification")
	// ErrNotFound is returned by mutations targeting an unprovisioned tenant.
	ErrNotFound = errors.New("customer authorization not found")
)

// Identifiers that always provision as super-admin, ahead of any
// configured list.
var builtinSuperAdmins = []string{"strixun"}

// Config carries resolver policy.
type Config struct {
	// SuperAdminIDs extends the built-in super-admin identifier list.
	SuperAdminIDs []string
	// CacheTTL overrides DefaultCacheTTL when positive.
	CacheTTL time.Duration
	// Now overrides the clock. Nil means time.Now; tests inject here.
	Now func() time.Time
}

type cacheEntry struct {
	auth      *CustomerAuthorization
	fetchedAt time.Time
}

// Resolver reads and mutates tenant authorization records in the shared
// persistent store. Safe for concurrent use.
type Resolver struct {
	store       kvstore.Store
	superAdmins map[string]bool
	cacheTTL    time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver builds a Resolver over store.
func NewResolver(store kvstore.Store, cfg Config) *Resolver {
	superAdmins := make(map[string]bool, len(builtinSuperAdmins)+len(cfg.SuperAdminIDs))
	for _, id := range builtinSuperAdmins {
		superAdmins[id] = true
	}
	for _, id := range cfg.SuperAdminIDs {
		superAdmins[id] = true
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Resolver{
		store:       store,
		superAdmins: superAdmins,
		cacheTTL:    ttl,
		now:         now,
		cache:       make(map[string]cacheEntry),
	}
}

// Resolve returns the tenant's roles, derived permissions, and quotas. An
// absent tenant yields an empty active record, not an error. Results may be
// served from the short-TTL cache; use ResolveFresh when staleness is
// unacceptable.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*CustomerAuthorization, error) {
	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && r.now().Sub(entry.fetchedAt) < r.cacheTTL {
		return entry.auth, nil
	}

	return r.ResolveFresh(ctx, tenantID)
}

// ResolveFresh bypasses the cache, reads the authoritative record, and
// refreshes the cache entry.
func (r *Resolver) ResolveFresh(ctx context.Context, tenantID string) (*CustomerAuthorization, error) {
	auth, err := r.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[tenantID] = cacheEntry{auth: auth, fetchedAt: r.now()}
	r.mu.Unlock()

	return auth, nil
}

func (r *Resolver) load(ctx context.Context, tenantID string) (*CustomerAuthorization, error) {
	data, err := r.store.Get(ctx, customerPrefix+tenantID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return &CustomerAuthorization{
				CustomerID:  tenantID,
				Roles:       []Role{},
				Permissions: []string{},
				Status:      StatusActive,
				Quotas:      map[string]*Quota{},
			}, nil
		}
		return nil, fmt.Errorf("read customer authorization: %w", err)
	}

	var auth CustomerAuthorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("decode customer authorization: %w", err)
	}
	auth.Permissions = ResolvePermissions(auth.Roles)
	return &auth, nil
}

// EnsureCustomer provisions authorization data for a tenant. Idempotent: an
// existing record is left untouched. Nil defaultRoles selects roles by
// policy — super-admin identifiers get super-admin plus uploader, everyone
// else customer plus uploader.
func (r *Resolver) EnsureCustomer(ctx context.Context, tenantID string, defaultRoles []Role) error {
	_, err := r.EnsureCustomerProvisioned(ctx, tenantID, defaultRoles)
	return err
}

// EnsureCustomerProvisioned is EnsureCustomer reporting whether this call
// created the record. An existing record, including one written by a
// concurrent provision that won the insert race, reports false.
func (r *Resolver) EnsureCustomerProvisioned(ctx context.Context, tenantID string, defaultRoles []Role) (bool, error) {
	if tenantID == "" {
		return false, errors.New("tenant id required")
	}

	if _, err := r.store.Get(ctx, customerPrefix+tenantID); err == nil {
		return false, nil
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return false, fmt.Errorf("read customer authorization: %w", err)
	}

	roles := defaultRoles
	if roles == nil {
		if r.superAdmins[tenantID] {
			roles = []Role{RoleSuperAdmin, RoleUploader}
		} else {
			roles = []Role{RoleCustomer, RoleUploader}
		}
	}
	for _, role := range roles {
		if !KnownRole(role) {
			return false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}

	now := r.now()
	auth := &CustomerAuthorization{
		CustomerID: tenantID,
		Roles:      roles,
		Status:     StatusActive,
		Quotas:     defaultQuotas(roles, now),
		AuditLog: []AuditEntry{{
			Timestamp: now.Unix(),
			Action:    "customer:provision",
			Details:   map[string]string{"roles": rolesString(roles)},
		}},
		Version: 1,
	}

	data, err := json.Marshal(auth)
	if err != nil {
		return false, fmt.Errorf("encode customer authorization: %w", err)
	}

	// A concurrent provision winning the race is still success.
	inserted, err := r.store.PutIfAbsent(ctx, customerPrefix+tenantID, data, 0)
	if err != nil {
		return false, fmt.Errorf("persist customer authorization: %w", err)
	}

	r.invalidate(tenantID)
	return inserted, nil
}

// IsSuperAdmin resolves the tenant's roles and checks super-admin
// membership. Any lookup failure resolves to false.
func (r *Resolver) IsSuperAdmin(ctx context.Context, tenantID string) bool {
	auth, err := r.Resolve(ctx, tenantID)
	if err != nil {
		return false
	}
	return auth.HasRole(RoleSuperAdmin)
}

// HasPermission reports whether the tenant's derived permission set grants
// perm. Fail-closed: errors and suspended or cancelled records read as
// denied.
func (r *Resolver) HasPermission(ctx context.Context, tenantID, perm string) bool {
	auth, err := r.Resolve(ctx, tenantID)
	if err != nil || auth.Status != StatusActive {
		return false
	}
	return PermissionGranted(auth.Permissions, perm)
}

// SetRoles replaces the tenant's role set. Quota defaults for newly granted
// tiers are merged in; existing consumption counters are preserved.
func (r *Resolver) SetRoles(ctx context.Context, tenantID string, roles []Role, performedBy, reason string) error {
	for _, role := range roles {
		if !KnownRole(role) {
			return fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}

	return r.mutate(ctx, tenantID, "roles:set", performedBy, reason,
		map[string]string{"roles": rolesString(roles)},
		func(auth *CustomerAuthorization) error {
			auth.Roles = roles
			for resource, quota := range defaultQuotas(roles, r.now()) {
				if _, ok := auth.Quotas[resource]; !ok {
					auth.Quotas[resource] = quota
				}
			}
			return nil
		})
}

// SetStatus moves the tenant between the soft lifecycle states.
func (r *Resolver) SetStatus(ctx context.Context, tenantID string, status Status, performedBy, reason string) error {
	switch status {
	case StatusActive, StatusSuspended, StatusCancelled:
	default:
		return fmt.Errorf("invalid status %q", status)
	}

	return r.mutate(ctx, tenantID, "status:"+string(status), performedBy, reason, nil,
		func(auth *CustomerAuthorization) error {
			auth.Status = status
			return nil
		})
}

// SetQuota assigns or replaces the quota for one resource, resetting its
// consumption window.
func (r *Resolver) SetQuota(ctx context.Context, tenantID, resource string, limit int, period string, performedBy, reason string) error {
	if limit < 0 {
		return errors.New("quota limit must be non-negative")
	}
	if period != PeriodDay && period != PeriodMonth {
		return fmt.Errorf("invalid quota period %q", period)
	}

	return r.mutate(ctx, tenantID, "quota:set", performedBy, reason,
		map[string]string{"resource": resource},
		func(auth *CustomerAuthorization) error {
			auth.Quotas[resource] = &Quota{
				Limit:   limit,
				Period:  period,
				ResetAt: nextReset(period, r.now()),
			}
			return nil
		})
}

// ConsumeQuota spends one unit of resource. The window rolls over lazily
// when ResetAt has passed. A denied attempt returns ErrQuotaExceeded and
// leaves the counter untouched — no double counting.
func (r *Resolver) ConsumeQuota(ctx context.Context, tenantID, resource string) error {
	now := r.now()

	// A denied attempt returns from inside fn before the compare-and-swap,
	// so nothing is persisted and Current cannot double count.
	return r.mutate(ctx, tenantID, "quota:consume", "", "",
		map[string]string{"resource": resource},
		func(auth *CustomerAuthorization) error {
			quota, ok := auth.Quotas[resource]
			if !ok {
				return fmt.Errorf("%w: no quota assigned for %q", ErrQuotaExceeded, resource)
			}
			if now.Unix() >= quota.ResetAt {
				quota.Current = 0
				quota.ResetAt = nextReset(quota.Period, now)
			}
			if quota.Current >= quota.Limit {
				return ErrQuotaExceeded
			}
			quota.Current++
			return nil
		})
}

// AuditTrail returns the tenant's append-only audit log, oldest first.
func (r *Resolver) AuditTrail(ctx context.Context, tenantID string) ([]AuditEntry, error) {
	auth, err := r.ResolveFresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return auth.AuditLog, nil
}

// ImportLegacyAdmins provisions super-admin records for identifiers carried
// over from the retired email-list authorization path. This is a one-time
// offline migration entry point, never a live decision path. Returns the
// number of records provisioned.
func (r *Resolver) ImportLegacyAdmins(ctx context.Context, ids []string, performedBy string) (int, error) {
	imported := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := r.store.Get(ctx, customerPrefix+id); err == nil {
			continue
		} else if !errors.Is(err, kvstore.ErrNotFound) {
			return imported, fmt.Errorf("read customer authorization: %w", err)
		}
		if err := r.EnsureCustomer(ctx, id, []Role{RoleSuperAdmin, RoleUploader}); err != nil {
			return imported, err
		}
		if err := r.mutate(ctx, id, "customer:legacy-import", performedBy, "email allow-list migration", nil,
			func(*CustomerAuthorization) error { return nil }); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// mutate applies fn to the tenant's record under optimistic concurrency:
// read, modify, bump version, append the audit entry, compare-and-swap.
// A lost swap surfaces as ErrConflict rather than a silent lost update.
func (r *Resolver) mutate(ctx context.Context, tenantID, action, performedBy, reason string, details map[string]string, fn func(*CustomerAuthorization) error) error {
	storeKey := customerPrefix + tenantID

	old, err := r.store.Get(ctx, storeKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("read customer authorization: %w", err)
	}

	var auth CustomerAuthorization
	if err := json.Unmarshal(old, &auth); err != nil {
		return fmt.Errorf("decode customer authorization: %w", err)
	}
	if auth.Quotas == nil {
		auth.Quotas = map[string]*Quota{}
	}

	if err := fn(&auth); err != nil {
		return err
	}

	auth.Version++
	auth.AuditLog = append(auth.AuditLog, AuditEntry{
		Timestamp:   r.now().Unix(),
		Action:      action,
		Details:     details,
		PerformedBy: performedBy,
		Reason:      reason,
	})

	updated, err := json.Marshal(&auth)
	if err != nil {
		return fmt.Errorf("encode customer authorization: %w", err)
	}

	swapped, err := r.store.CompareAndSwap(ctx, storeKey, old, updated, 0)
	if err != nil {
		return fmt.Errorf("persist customer authorization: %w", err)
	}
	if !swapped {
		return ErrConflict
	}

	r.invalidate(tenantID)
	return nil
}

func (r *Resolver) invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}

func rolesString(roles []Role) string {
	out := ""
	for i, role := range roles {
		if i > 0 {
			out += ","
		}
		out += string(role)
	}
	return out
}
