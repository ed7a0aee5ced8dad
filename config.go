package authcore

import "time"

// Config defines the full configuration tree of the identity core.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	Signing       SigningConfig
	MasterKey     MasterKeyConfig
	Authorization AuthorizationConfig
	APIKeys       APIKeyConfig
	Envelope      EnvelopeConfig
	Provisioning  ProvisioningConfig
	Store         StoreConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
SIGNING CONFIG
====================================
*/

// SigningConfig carries the token-signing authority inputs. PrivateKeyJWK
// is the RSA private key in JWK form (RS256, 2048-bit minimum).
type SigningConfig struct {
	PrivateKeyJWK []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

/*
====================================
MASTER KEY CONFIG
====================================
*/

// MasterKeyConfig carries the shared secret from which the DEK master key
// is derived. Must be at least 16 characters.
type MasterKeyConfig struct {
	Secret string
}

/*
====================================
AUTHORIZATION CONFIG
====================================
*/

// AuthorizationConfig tunes the authorization resolver.
type AuthorizationConfig struct {
	// SuperAdminIDs extends the built-in super-admin identifier list used
	// at provisioning time.
	SuperAdminIDs []string
	// CacheTTL bounds staleness of the non-authoritative tenant cache.
	CacheTTL time.Duration
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig tunes the credential lifecycle manager.
type APIKeyConfig struct {
	// RotationGrace is the overlap window during which a rotated-out
	// secret still validates. Zero selects the documented 7-day default.
	RotationGrace time.Duration
}

/*
====================================
ENVELOPE CONFIG
====================================
*/

// EnvelopeConfig selects the stage cipher for newly encrypted envelopes.
// Empty selects AES-256-GCM.
type EnvelopeConfig struct {
	Algorithm string
}

/*
====================================
PROVISIONING CONFIG
====================================
*/

// ProvisioningConfig tunes tenant auto-provisioning during session
// restore. Exactly one retry is attempted after RetryDelay, to tolerate
// eventual consistency in the backing store.
type ProvisioningConfig struct {
	RetryDelay time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig namespaces all persisted keys.
type StoreConfig struct {
	Prefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig tunes the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events under backpressure instead of blocking the
	// emitting call; drops are counted.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig tunes the in-process metrics recorder.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Signing: SigningConfig{
			TokenTTL: 7 * time.Hour,
		},
		Provisioning: ProvisioningConfig{
			RetryDelay: 250 * time.Millisecond,
		},
		Store: StoreConfig{
			Prefix: "authcore",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Signing.PrivateKeyJWK != nil {
		out.Signing.PrivateKeyJWK = append([]byte(nil), cfg.Signing.PrivateKeyJWK...)
	}
	if cfg.Authorization.SuperAdminIDs != nil {
		out.Authorization.SuperAdminIDs = append([]string(nil), cfg.Authorization.SuperAdminIDs...)
	}
	return out
}
