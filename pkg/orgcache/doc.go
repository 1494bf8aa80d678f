// Package orgcache memoizes organization and membership lookups.
//
// A Cache wraps an orgs.Directory (normally *orgs.Store) and implements the same
// interface, so the resolver and the authorization gate read through it:
//
//	cache, err := orgcache.New(orgs.NewStore(db), orgcache.Config{
//		TTL:     15 * time.Minute,
//		Backend: redisClient,
//	})
//	tenant := orgs.Resolve(ctx, cache, "acme")
//
// Entries live in an in-process expirable LRU backed by an optional shared tier
// (redis). Writes through orgs.Service invalidate the affected keys; entries
// changed elsewhere can be stale for up to the TTL.
package orgcache
