package authz

// Status is the soft lifecycle state of a tenant's authorization record.
// Records are never hard-deleted.
type Status string

const (
	// StatusActive is an exported constant used by the authorization resolver.
	StatusActive Status = "active"
	// StatusSuspended is an exported constant used by the authorization resolver.
	StatusSuspended Status = "suspended"
	// StatusCancelled is an exported constant used by the authorization resolver.
	StatusCancelled Status = "cancelled"
)

// Quota tracks consumption of one resource within a rolling window.
// Current and ResetAt are mutated explicitly by consumption calls, not
// recomputed on read.
type Quota struct {
	Limit   int    `json:"limit"`
	Period  string `json:"period"`
	Current int    `json:"current"`
	ResetAt int64  `json:"resetAt"`
}

// AuditEntry is one immutable line of a tenant's audit trail.
type AuditEntry struct {
	Timestamp   int64             `json:"timestamp"`
	Action      string            `json:"action"`
	Details     map[string]string `json:"details,omitempty"`
	PerformedBy string            `json:"performedBy,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// CustomerAuthorization is the persisted authorization state of one tenant.
// Permissions is derived from Roles on every resolve; the stored value is
// never authoritative. Version backs compare-and-swap mutation.
type CustomerAuthorization struct {
	CustomerID  string            `json:"customerId"`
	Roles       []Role            `json:"roles"`
	Permissions []string          `json:"permissions,omitempty"`
	Status      Status            `json:"status"`
	Quotas      map[string]*Quota `json:"quotas"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	AuditLog    []AuditEntry      `json:"auditLog"`
	Version     int64             `json:"version"`
}

// HasRole reports whether the record carries role.
func (c *CustomerAuthorization) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
