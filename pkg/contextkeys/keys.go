// Package contextkeys provides centralized context key definitions
//
// All context keys shared across packages are defined here. Typed accessors live
// next to the types they carry (middleware.IdentityFrom, middleware.TenantFrom,
// audit.FromContext) so this package stays free of domain imports.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: rbac gate, every authenticated handler
	IdentityKey Key = "identity"

	// TenantKey contains orgs.Tenant (a real organization or orgs.Null)
	// Set by: middleware.Resolver (pkg/middleware/resolver.go), once per request
	// Required by: rbac gate, organization-scoped handlers
	TenantKey Key = "tenant"

	// AuditLoggerKey contains audit.Logger
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: services and handlers that record audit events
	AuditLoggerKey Key = "audit_logger"
)

// WithIdentity adds the authenticated caller to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithTenant adds the resolved organization to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}
