package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/apikey"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/authz"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/dek"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/envelope"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/token"
)

// Core is the assembled identity core: token signing, tenant key
// management, multi-party encryption, authorization, and API key
// lifecycle over one shared persistent store.
//
// Core instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Core struct {
	config    Config
	store     kvstore.Store
	authority *token.Authority
	keystore  *dek.Keystore
	engine    *envelope.Engine
	resolver  *authz.Resolver
	apiKeys   *apikey.Manager

	audit   *auditDispatcher
	metrics *Metrics
	now     func() time.Time
}

// Close flushes and stops the audit dispatcher. The Core must not be used
// after Close returns.
func (c *Core) Close() {
	c.audit.Close()
}

// Metrics returns the in-process metrics recorder.
func (c *Core) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot copies all counters and histograms at a point in time.
func (c *Core) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports the number of audit events dropped under
// backpressure since startup.
func (c *Core) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Store exposes the underlying key-value store for advanced callers.
func (c *Core) Store() kvstore.Store {
	return c.store
}

func (c *Core) ready() error {
	if c == nil || c.store == nil {
		return ErrCoreNotReady
	}
	return nil
}

func (c *Core) emit(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if event.Actor == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			event.Actor = actor
		}
	}
	if event.TenantID == "" {
		if tenant, ok := TenantIDFromContext(ctx); ok {
			event.TenantID = tenant
		}
	}
	c.audit.Emit(ctx, event)
}

/*
====================================
TOKEN OPERATIONS
====================================
*/

// IssueToken describes the issuetoken operation and its observable behavior.
//
// IssueToken may return an error when input validation, dependency calls, or security checks fail.
// IssueToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) IssueToken(ctx context.Context, claims token.Claims) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}

	signed, err := c.authority.Sign(claims)
	if err != nil {
		return "", err
	}

	sub, _ := claims["sub"].(string)
	c.metrics.Inc(MetricTokenIssued)
	c.emit(ctx, AuditEvent{
		EventType: auditEventTokenIssued,
		TenantID:  sub,
		Success:   true,
	})

	return signed, nil
}

// ValidateToken describes the validatetoken operation and its observable behavior.
//
// ValidateToken may return an error when input validation, dependency calls, or security checks fail.
// ValidateToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) ValidateToken(ctx context.Context, tokenStr string) (token.Claims, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	start := c.now()
	claims := c.authority.Verify(tokenStr)
	c.metrics.Observe(MetricVerifyLatency, c.now().Sub(start))

	if claims == nil {
		c.metrics.Inc(MetricTokenRejected)
		c.emit(ctx, AuditEvent{
			EventType: auditEventTokenRejected,
			Success:   false,
			Error:     ErrUnauthorized.Error(),
		})
		// No detail crosses this boundary; the audit trail carries it.
		return nil, ErrUnauthorized
	}

	c.metrics.Inc(MetricTokenVerified)
	return claims, nil
}

// RestoreSession validates a token and guarantees the subject tenant has
// an authorization record, provisioning one with policy defaults when
// absent. Exactly one provisioning retry is attempted after the configured
// delay; a subject that still cannot be provisioned fails closed.
func (c *Core) RestoreSession(ctx context.Context, tokenStr string) (token.Claims, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	claims, err := c.ValidateToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	provisioned, err := c.resolver.EnsureCustomerProvisioned(ctx, sub, nil)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.Provisioning.RetryDelay):
		}
		provisioned, err = c.resolver.EnsureCustomerProvisioned(ctx, sub, nil)
		if err != nil {
			c.emit(ctx, AuditEvent{
				EventType: auditEventCustomerProvision,
				TenantID:  sub,
				Success:   false,
				Error:     err.Error(),
			})
			return nil, ErrUnauthorized
		}
	}

	// Records already on file restore silently; only a fresh provision
	// counts and leaves an audit trace.
	if provisioned {
		c.metrics.Inc(MetricCustomerProvisioned)
		c.emit(ctx, AuditEvent{
			EventType: auditEventCustomerProvision,
			TenantID:  sub,
			Success:   true,
		})
	}

	return claims, nil
}

// JWKS returns the publishable key-set document.
func (c *Core) JWKS() token.JWKS {
	return c.authority.JWKS()
}

// Discovery builds provider metadata rooted at baseURL.
func (c *Core) Discovery(baseURL string) token.DiscoveryDocument {
	return c.authority.Discovery(baseURL)
}

// HashClaim computes the OIDC at_hash/c_hash value for a token or code.
func (c *Core) HashClaim(value string) string {
	return token.HashClaim(value)
}

/*
====================================
TENANT KEY OPERATIONS
====================================
*/

// TenantKey describes the tenantkey operation and its observable behavior.
//
// TenantKey may return an error when input validation, dependency calls, or security checks fail.
// TenantKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) TenantKey(ctx context.Context, tenantID string) ([]byte, error) {
	key, minted, err := c.keystore.TenantKeyMinted(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if minted {
		c.metrics.Inc(MetricDEKMinted)
		c.emit(ctx, AuditEvent{
			EventType: auditEventDEKMinted,
			TenantID:  tenantID,
			Success:   true,
		})
	} else {
		c.metrics.Inc(MetricDEKServed)
	}

	return key, nil
}

/*
====================================
ENCRYPTION OPERATIONS
====================================
*/

// EncryptForTenant seals payload in a single-stage envelope under the
// tenant's DEK.
func (c *Core) EncryptForTenant(ctx context.Context, tenantID string, payload any) (*envelope.Envelope, error) {
	key, err := c.TenantKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return c.encrypt(ctx, tenantID, payload, [][]byte{key})
}

// DecryptForTenant opens a single-stage envelope under the tenant's DEK.
func (c *Core) DecryptForTenant(ctx context.Context, tenantID string, env *envelope.Envelope, out any) error {
	key, err := c.TenantKey(ctx, tenantID)
	if err != nil {
		return err
	}
	return c.decrypt(ctx, tenantID, env, [][]byte{key}, out)
}

// EncryptMultiParty seals payload under the supplied stage keys, innermost
// first. Opening requires every keyholder in reverse order.
func (c *Core) EncryptMultiParty(ctx context.Context, tenantID string, payload any, keys [][]byte) (*envelope.Envelope, error) {
	return c.encrypt(ctx, tenantID, payload, keys)
}

// DecryptMultiParty opens a multi-stage envelope with keys supplied
// outermost first.
func (c *Core) DecryptMultiParty(ctx context.Context, tenantID string, env *envelope.Envelope, keys [][]byte, out any) error {
	return c.decrypt(ctx, tenantID, env, keys, out)
}

// DecryptStage peels a single envelope stage, returning either the inner
// envelope or the recovered plaintext.
func (c *Core) DecryptStage(env *envelope.Envelope, key []byte) (*envelope.Envelope, []byte, error) {
	return c.engine.DecryptStage(env, key)
}

func (c *Core) encrypt(ctx context.Context, tenantID string, payload any, keys [][]byte) (*envelope.Envelope, error) {
	env, err := c.engine.Encrypt(payload, keys)
	if err != nil {
		return nil, err
	}

	c.metrics.Inc(MetricEnvelopeEncrypted)
	c.emit(ctx, AuditEvent{
		EventType: auditEventPayloadEncrypted,
		TenantID:  tenantID,
		Success:   true,
		Metadata:  map[string]string{"stages": fmt.Sprintf("%d", len(keys))},
	})

	return env, nil
}

func (c *Core) decrypt(ctx context.Context, tenantID string, env *envelope.Envelope, keys [][]byte, out any) error {
	err := c.engine.DecryptInto(env, keys, out)
	if err != nil {
		if errors.Is(err, envelope.ErrIntegrity) {
			c.metrics.Inc(MetricEnvelopeIntegrityFailure)
		}
		c.emit(ctx, AuditEvent{
			EventType: auditEventPayloadDecryptFail,
			TenantID:  tenantID,
			Success:   false,
			Error:     err.Error(),
		})
		return err
	}

	c.metrics.Inc(MetricEnvelopeDecrypted)
	return nil
}

/*
====================================
AUTHORIZATION OPERATIONS
====================================
*/

// Authorization exposes the tenant authorization resolver.
func (c *Core) Authorization() *authz.Resolver {
	return c.resolver
}

// RequirePermission describes the requirepermission operation and its observable behavior.
//
// RequirePermission may return an error when input validation, dependency calls, or security checks fail.
// RequirePermission does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) RequirePermission(ctx context.Context, tenantID, perm string) error {
	if c.resolver.HasPermission(ctx, tenantID, perm) {
		return nil
	}

	c.metrics.Inc(MetricPermissionDenied)
	c.emit(ctx, AuditEvent{
		EventType: auditEventPermissionDenied,
		TenantID:  tenantID,
		Success:   false,
		Metadata:  map[string]string{"permission": perm},
	})

	return ErrAuthorizationDenied
}

// IsSuperAdmin reports whether the tenant holds the super-admin role. Any
// resolution failure resolves to false.
func (c *Core) IsSuperAdmin(ctx context.Context, tenantID string) bool {
	return c.resolver.IsSuperAdmin(ctx, tenantID)
}

// ConsumeQuota describes the consumequota operation and its observable behavior.
//
// ConsumeQuota may return an error when input validation, dependency calls, or security checks fail.
// ConsumeQuota does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) ConsumeQuota(ctx context.Context, tenantID, resource string) error {
	err := c.resolver.ConsumeQuota(ctx, tenantID, resource)
	if err == nil {
		c.metrics.Inc(MetricQuotaConsumed)
		return nil
	}

	switch {
	case errors.Is(err, authz.ErrQuotaExceeded):
		c.metrics.Inc(MetricQuotaExceeded)
		c.emit(ctx, AuditEvent{
			EventType: auditEventQuotaExceeded,
			TenantID:  tenantID,
			Success:   false,
			Metadata:  map[string]string{"resource": resource},
		})
		return ErrQuotaExceeded
	case errors.Is(err, authz.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, authz.ErrConflict):
		return ErrConflict
	}
	return err
}

/*
====================================
API KEY OPERATIONS
====================================
*/

// APIKeys exposes the credential lifecycle manager.
func (c *Core) APIKeys() *apikey.Manager {
	return c.apiKeys
}

// CreateAPIKey describes the createapikey operation and its observable behavior.
//
// CreateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// CreateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) CreateAPIKey(ctx context.Context, tenantID, name string) (*apikey.CreatedKey, error) {
	if tenantID == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant id and key name required", ErrInvalidInput)
	}

	created, err := c.apiKeys.Create(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}

	c.metrics.Inc(MetricAPIKeyCreated)
	c.emit(ctx, AuditEvent{
		EventType: auditEventKeyCreated,
		TenantID:  tenantID,
		KeyID:     created.KeyID,
		Success:   true,
	})

	return created, nil
}

// RotateAPIKey describes the rotateapikey operation and its observable behavior.
//
// RotateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// RotateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) RotateAPIKey(ctx context.Context, tenantID, keyID string) (*apikey.CreatedKey, error) {
	created, err := c.apiKeys.Rotate(ctx, tenantID, keyID)
	if err != nil {
		c.emit(ctx, AuditEvent{
			EventType: auditEventKeyRotated,
			TenantID:  tenantID,
			KeyID:     keyID,
			Success:   false,
			Error:     err.Error(),
		})
		return nil, err
	}

	c.metrics.Inc(MetricAPIKeyRotated)
	c.emit(ctx, AuditEvent{
		EventType: auditEventKeyRotated,
		TenantID:  tenantID,
		KeyID:     keyID,
		Success:   true,
		Metadata:  map[string]string{"replaced_by": created.KeyID},
	})

	return created, nil
}

// RevokeAPIKey describes the revokeapikey operation and its observable behavior.
//
// RevokeAPIKey may return an error when input validation, dependency calls, or security checks fail.
// RevokeAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	if err := c.apiKeys.Revoke(ctx, tenantID, keyID); err != nil {
		return err
	}

	c.metrics.Inc(MetricAPIKeyRevoked)
	c.emit(ctx, AuditEvent{
		EventType: auditEventKeyRevoked,
		TenantID:  tenantID,
		KeyID:     keyID,
		Success:   true,
	})

	return nil
}

// ValidateAPIKey describes the validateapikey operation and its observable behavior.
//
// ValidateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// ValidateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Core) ValidateAPIKey(ctx context.Context, tenantID, secret string) (*apikey.Key, error) {
	key, err := c.apiKeys.Validate(ctx, tenantID, secret)
	if err != nil {
		c.metrics.Inc(MetricAPIKeyValidationFailure)
		// Callers see the generic credential failure only.
		return nil, ErrUnauthorized
	}
	return key, nil
}

// RevealAPIKey returns the plaintext secret of a non-revoked key.
func (c *Core) RevealAPIKey(ctx context.Context, tenantID, keyID string) (string, error) {
	secret, err := c.apiKeys.Reveal(ctx, tenantID, keyID)
	if err != nil {
		return "", err
	}

	c.emit(ctx, AuditEvent{
		EventType: auditEventKeyRevealed,
		TenantID:  tenantID,
		KeyID:     keyID,
		Success:   true,
	})

	return secret, nil
}

// ListAPIKeys returns sanitized views of every key the tenant owns.
func (c *Core) ListAPIKeys(ctx context.Context, tenantID string) ([]apikey.Key, error) {
	return c.apiKeys.List(ctx, tenantID)
}

// UpdateAPIKeySSO replaces a key's session isolation configuration.
func (c *Core) UpdateAPIKeySSO(ctx context.Context, tenantID, keyID string, sso apikey.SSOConfig) error {
	if err := c.apiKeys.UpdateSSO(ctx, tenantID, keyID, sso); err != nil {
		return err
	}

	c.emit(ctx, AuditEvent{
		EventType: auditEventKeySSOUpdated,
		TenantID:  tenantID,
		KeyID:     keyID,
		Success:   true,
		Metadata:  map[string]string{"mode": string(sso.IsolationMode)},
	})

	return nil
}
