// Package orgs implements passportd's tenants: organizations, their memberships
// and the roles derived from them.
//
// Roles are never stored. RoleOf compares a membership with the organization's
// owner pointer and flags:
//
//	owner  - the membership named by organization_owners
//	admin  - an active membership with is_admin set
//	member - any other active membership
//
// Owner implies admin, and admin implies member.
//
// Requests carry a Tenant. Resolve binds a looked-up organization, and any lookup
// failure yields Null, whose every capability check answers false. Authorization
// code never has to test for a missing organization.
//
// Service owns the writes: creation (organization, admin membership and owner
// pointer in one transaction), field patches, owner-only activation, deactivation
// and soft delete, and the membership add and remove flows.
package orgs
