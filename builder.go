package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Underwood-Inc/strixun-stream-suite-sub011/apikey"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/authz"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/dek"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/envelope"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/kvstore"
	"github.com/Underwood-Inc/strixun-stream-suite-sub011/token"
)

// Builder assembles a Core from configuration and dependencies.
//
// Builder instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client
	store  kvstore.Store

	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder carrying the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the redis client backing the shared persistent store.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithStore supplies a pre-built store, overriding WithRedis. Tests use
// this to inject alternative backends.
func (b *Builder) WithStore(store kvstore.Store) *Builder {
	b.store = store
	return b
}

// WithAuditSink supplies the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the clock used by every time-dependent component.
// Tests inject here; production code leaves it nil.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process metrics recorder.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histogram recording.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs every subsystem, and
// returns the assembled Core. A Builder builds at most once.
func (b *Builder) Build() (*Core, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: redis client or store required", ErrConfiguration)
		}
		store = kvstore.NewRedisStore(b.redis, cfg.Store.Prefix)
	}

	if len(cfg.Signing.PrivateKeyJWK) == 0 {
		return nil, fmt.Errorf("%w: signing private key JWK required", ErrConfiguration)
	}
	if cfg.MasterKey.Secret == "" {
		return nil, fmt.Errorf("%w: master key secret required", ErrConfiguration)
	}
	if cfg.Provisioning.RetryDelay <= 0 {
		cfg.Provisioning.RetryDelay = 250 * time.Millisecond
	}

	// -------- TOKEN AUTHORITY --------
	authority, err := token.NewAuthority(token.Config{
		PrivateKeyJWK: cfg.Signing.PrivateKeyJWK,
		Issuer:        cfg.Signing.Issuer,
		Audience:      cfg.Signing.Audience,
		TokenTTL:      cfg.Signing.TokenTTL,
		Now:           b.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// -------- KEY ENVELOPE STORE --------
	keystore, err := dek.NewKeystore(store, cfg.MasterKey.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// -------- ENCRYPTION ENGINE --------
	var engineOpts []envelope.Option
	if cfg.Envelope.Algorithm != "" {
		engineOpts = append(engineOpts, envelope.WithAlgorithm(cfg.Envelope.Algorithm))
	}
	engine, err := envelope.NewEngine(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// -------- AUTHORIZATION RESOLVER --------
	resolver := authz.NewResolver(store, authz.Config{
		SuperAdminIDs: cfg.Authorization.SuperAdminIDs,
		CacheTTL:      cfg.Authorization.CacheTTL,
		Now:           b.now,
	})

	// -------- API KEY MANAGER --------
	keys := apikey.NewManager(store, keystore, resolver, apikey.Config{
		RotationGrace: cfg.APIKeys.RotationGrace,
		Now:           b.now,
	})

	now := b.now
	if now == nil {
		now = time.Now
	}

	core := &Core{
		config:    cfg,
		store:     store,
		authority: authority,
		keystore:  keystore,
		engine:    engine,
		resolver:  resolver,
		apiKeys:   keys,
		now:       now,
	}

	core.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	core.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return core, nil
}
