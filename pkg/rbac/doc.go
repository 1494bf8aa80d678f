// Package rbac is the authorization gate for organization-scoped requests.
//
// Roles are not stored. They are derived per request from the resolved
// organization (orgs.Tenant) and the caller's membership: Owner, Admin, Member
// or none. Owner implies Admin, and both imply Member.
//
// # Two phases
//
// Request-level predicates run before the handler loads anything:
//
//	router.Handle("/organizations/{organization}",
//		gate.Require(rbac.InOrganization, rbac.Owner)(updateHandler)).Methods("PUT")
//
// Object-level checks run once the target is loaded. The resource reports its
// owning organization through HasOrganization:
//
//	batch, err := batches.GetBatch(ctx, id)
//	...
//	if err := gate.CheckObject(ctx, batch); err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//
// Both phases fail closed. orgs.Null fails every role predicate, a resource with
// no organization is denied, and lookup errors deny rather than allow. Every
// denial is counted, logged, and written to the audit trail.
package rbac
