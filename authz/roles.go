package authz

import "sort"

// Role is a named entry in the closed role table. Unknown roles resolve to
// no permissions and are rejected by mutating calls.
type Role string

const (
	// RoleSuperAdmin maps to the wildcard permission.
	RoleSuperAdmin Role = "super-admin"
	// RoleAdmin is the moderation and customer-management tier.
	RoleAdmin Role = "admin"
	// RoleCustomer is the default read tier for every tenant.
	RoleCustomer Role = "customer"
	// RoleUploader grants content upload with a daily quota.
	RoleUploader Role = "uploader"
	// RolePremium grants the raised upload quota and monthly storage.
	RolePremium Role = "premium"
)

// PermissionAll is the wildcard permission granted to super-admins.
const PermissionAll = "*"

// rolePermissions is the closed role table. Adding a role means adding a
// row here; there is no fallthrough for unlisted roles.
var rolePermissions = map[Role][]string{
	RoleSuperAdmin: {PermissionAll},
	RoleAdmin: {
		"access:admin-panel",
		"approve:mod",
		"delete:mod-any",
		"edit:mod-any",
		"manage:customers",
		"view:analytics",
	},
	RoleCustomer: {
		"download:mod",
		"view:mods",
	},
	RoleUploader: {
		"delete:mod-own",
		"edit:mod-own",
		"upload:mod",
	},
	RolePremium: {
		"delete:mod-own",
		"edit:mod-own",
		"upload:mod",
		"upload:music",
	},
}

// KnownRole reports whether r is present in the role table.
func KnownRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// ResolvePermissions returns the sorted set union of the table entries for
// roles. An unknown role contributes nothing. A wildcard grant collapses
// the result to exactly {PermissionAll}.
func ResolvePermissions(roles []Role) []string {
	set := make(map[string]struct{})
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			if perm == PermissionAll {
				return []string{PermissionAll}
			}
			set[perm] = struct{}{}
		}
	}

	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}

// PermissionGranted reports whether perm is satisfied by the permission
// list, honoring the wildcard.
func PermissionGranted(permissions []string, perm string) bool {
	for _, p := range permissions {
		if p == PermissionAll || p == perm {
			return true
		}
	}
	return false
}
