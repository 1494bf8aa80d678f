// Package middleware provides HTTP middleware for authentication, organization
// resolution, and throttling of credential endpoints.
//
// # Middleware Components
//
// AuthMiddleware: bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, false)
//	router.Use(authMW.Handler)
//	// Resolves "Authorization: Bearer pp_..." to an *auth.Identity
//
// Resolver: current organization
//
//	resolver := middleware.NewResolver(orgCache, cfg.Resolver, logger)
//	router.Use(resolver.Middleware)
//
// The resolver checks the route variable, then the query parameter, then the
// header, and attaches the first match (or orgs.Null) to the request. Lookup
// failures of any kind produce orgs.Null, so handlers never see a nil tenant.
//
// Throttle: redis-backed fixed window per client address
//
//	throttle := middleware.NewThrottle(redisClient, middleware.DefaultThrottleConfig(), "", logger)
//	router.Handle("/auth/tokens", throttle.Handler(h))
//
// # Accessors
//
//	identity := middleware.IdentityFrom(r.Context()) // nil when anonymous
//	tenant := middleware.TenantFrom(r.Context())     // orgs.Null when unresolved
//
// # Related Packages
//
//   - pkg/auth: Token validation
//   - pkg/orgs: Tenant and Directory
//   - pkg/rbac: Permission checking
package middleware
