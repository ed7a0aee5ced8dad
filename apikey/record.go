package apikey

// Status is the lifecycle state of one API key record.
type Status string

const (
	// StatusActive is an exported constant used by the key lifecycle manager.
	StatusActive Status = "active"
	// StatusRotated marks a key replaced by a successor; its secret stays
	// valid until the rotation grace window closes.
	StatusRotated Status = "rotated"
	// StatusRevoked is immediate and terminal.
	StatusRevoked Status = "revoked"
)

// IsolationMode governs whether sessions created under one of a tenant's
// keys are visible to requests bearing another.
type IsolationMode string

const (
	// IsolationNone shares sessions across all of a tenant's keys.
	IsolationNone IsolationMode = "none"
	// IsolationSelective shares sessions only with keys on the allow-list.
	IsolationSelective IsolationMode = "selective"
	// IsolationComplete never shares sessions across keys.
	IsolationComplete IsolationMode = "complete"
)

// SSOConfig is the per-key isolation policy. AllowedKeyIDs is consulted
// only in selective mode and may list only keys of the same tenant.
type SSOConfig struct {
	IsolationMode IsolationMode `json:"isolationMode"`
	AllowedKeyIDs []string      `json:"allowedKeyIds,omitempty"`
}

// Record is the persisted form of one API key. The secret is stored
// AES-GCM-encrypted under the tenant DEK, alongside its hash for
// validation. Version backs compare-and-swap mutation.
type Record struct {
	KeyID      string    `json:"keyId"`
	CustomerID string    `json:"customerId"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	SSO        SSOConfig `json:"ssoConfig"`

	SecretIV         string `json:"secretIv"`
	SecretCiphertext string `json:"secretCiphertext"`
	SecretHash       string `json:"secretHash"`

	CreatedAt int64  `json:"createdAt"`
	LastUsed  int64  `json:"lastUsed,omitempty"`
	RotatedAt int64  `json:"rotatedAt,omitempty"`
	ReplacedBy string `json:"replacedBy,omitempty"`
	RevokedAt int64  `json:"revokedAt,omitempty"`

	Version int64 `json:"version"`
}

// Key is the read view of a record. It carries no secret material.
type Key struct {
	KeyID      string    `json:"keyId"`
	CustomerID string    `json:"customerId"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	SSO        SSOConfig `json:"ssoConfig"`
	CreatedAt  int64     `json:"createdAt"`
	LastUsed   int64     `json:"lastUsed,omitempty"`
	RotatedAt  int64     `json:"rotatedAt,omitempty"`
	ReplacedBy string    `json:"replacedBy,omitempty"`
	RevokedAt  int64     `json:"revokedAt,omitempty"`
}

// CreatedKey is returned by Create and Rotate: the only moments a
// plaintext secret is handed out besides an explicit Reveal.
type CreatedKey struct {
	KeyID  string `json:"keyId"`
	Secret string `json:"secret"`
}

func (r *Record) view() Key {
	return Key{
		KeyID:      r.KeyID,
		CustomerID: r.CustomerID,
		Name:       r.Name,
		Status:     r.Status,
		SSO:        r.SSO,
		CreatedAt:  r.CreatedAt,
		LastUsed:   r.LastUsed,
		RotatedAt:  r.RotatedAt,
		ReplacedBy: r.ReplacedBy,
		RevokedAt:  r.RevokedAt,
	}
}
