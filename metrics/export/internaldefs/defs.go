package internaldefs

import (
	authcore "github.com/Underwood-Inc/strixun-stream-suite-sub011"
)

// CounterDef defines a public type used by authcore APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authcore APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the identity core.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricTokenIssued, Name: "authcore_token_issued_total", Help: "Issued access tokens."},
	{ID: authcore.MetricTokenVerified, Name: "authcore_token_verified_total", Help: "Successfully verified tokens."},
	{ID: authcore.MetricTokenRejected, Name: "authcore_token_rejected_total", Help: "Rejected token validations."},
	{ID: authcore.MetricDEKMinted, Name: "authcore_dek_minted_total", Help: "Tenant data keys minted on first access."},
	{ID: authcore.MetricDEKServed, Name: "authcore_dek_served_total", Help: "Tenant data keys served from existing records."},
	{ID: authcore.MetricEnvelopeEncrypted, Name: "authcore_envelope_encrypted_total", Help: "Sealed payload envelopes."},
	{ID: authcore.MetricEnvelopeDecrypted, Name: "authcore_envelope_decrypted_total", Help: "Opened payload envelopes."},
	{ID: authcore.MetricEnvelopeIntegrityFailure, Name: "authcore_envelope_integrity_failure_total", Help: "Envelope decryptions failing the integrity check."},
	{ID: authcore.MetricCustomerProvisioned, Name: "authcore_customer_provisioned_total", Help: "Tenant authorization records ensured during session restore."},
	{ID: authcore.MetricPermissionDenied, Name: "authcore_permission_denied_total", Help: "Denied permission checks."},
	{ID: authcore.MetricQuotaConsumed, Name: "authcore_quota_consumed_total", Help: "Successful quota consumptions."},
	{ID: authcore.MetricQuotaExceeded, Name: "authcore_quota_exceeded_total", Help: "Denied quota consumptions."},
	{ID: authcore.MetricAPIKeyCreated, Name: "authcore_apikey_created_total", Help: "Created API keys."},
	{ID: authcore.MetricAPIKeyRotated, Name: "authcore_apikey_rotated_total", Help: "Rotated API keys."},
	{ID: authcore.MetricAPIKeyRevoked, Name: "authcore_apikey_revoked_total", Help: "Revoked API keys."},
	{ID: authcore.MetricAPIKeyValidationFailure, Name: "authcore_apikey_validation_failure_total", Help: "Failed API credential validations."},
}

// HistogramDefs is an exported constant or variable used by the identity core.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricVerifyLatency, Name: "authcore_verify_latency_seconds", Help: "Token verify latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the identity core.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the identity core.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
