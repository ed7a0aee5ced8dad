package authcore

import "context"

type contextKey int

const (
	ctxTenantID contextKey = iota
	ctxActor
)

// WithTenantID returns a context carrying the tenant identifier. Audit
// events emitted under this context inherit it when no explicit tenant is
// available.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantID, tenantID)
}

// TenantIDFromContext extracts the tenant identifier, if any.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxTenantID).(string)
	return v, ok
}

// WithActor returns a context carrying the acting principal for audit
// attribution.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext extracts the acting principal, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxActor).(string)
	return v, ok
}
