package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/contextkeys"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

// Resolver determines the organization a request operates against
type Resolver struct {
	dir    orgs.Directory
	keys   config.ResolverConfig
	logger *observability.Logger
}

// NewResolver creates a resolver reading identifiers from the configured keys
func NewResolver(dir orgs.Directory, keys config.ResolverConfig, logger *observability.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		keys:   keys,
		logger: observability.OrDefault(logger),
	}
}

// Identifier returns the first non-empty organization identifier from the
// route variable, the query string and the header, in that order.
func (res *Resolver) Identifier(r *http.Request) string {
	if res.keys.RouteKey != "" {
		if v := mux.Vars(r)[res.keys.RouteKey]; v != "" {
			return v
		}
	}
	if res.keys.QueryKey != "" {
		if v := r.URL.Query().Get(res.keys.QueryKey); v != "" {
			return v
		}
	}
	if res.keys.Header != "" {
		return r.Header.Get(res.keys.Header)
	}
	return ""
}

// Resolve returns the request's organization, or orgs.Null
func (res *Resolver) Resolve(r *http.Request) orgs.Tenant {
	raw := res.Identifier(r)
	if raw == "" {
		return orgs.Null
	}
	tenant := orgs.Resolve(r.Context(), res.dir, raw)
	if !tenant.Exists() {
		res.logger.WithField("organization", raw).Debug("organization did not resolve")
	}
	return tenant
}

// Middleware resolves the organization once and attaches it to the request.
// Install it with router.Use so route variables are available.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTenant(r.Context(), res.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithTenant adds the resolved organization to ctx
func WithTenant(ctx context.Context, tenant orgs.Tenant) context.Context {
	if tenant == nil {
		tenant = orgs.Null
	}
	ctx = contextkeys.WithTenant(ctx, tenant)
	if tenant.Exists() {
		ctx = observability.WithOrganization(ctx, tenant.Slug())
	}
	return ctx
}

// TenantFrom returns the resolved organization, or orgs.Null when the request
// was never resolved
func TenantFrom(ctx context.Context) orgs.Tenant {
	tenant, ok := ctx.Value(contextkeys.TenantKey).(orgs.Tenant)
	if !ok || tenant == nil {
		return orgs.Null
	}
	return tenant
}
