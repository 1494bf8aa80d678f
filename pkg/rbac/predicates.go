package rbac

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

// Predicate is a request-level permission check against the resolved
// organization and the authenticated caller
type Predicate struct {
	// Name appears in denial messages, e.g. "owner role required"
	Name  string
	Allow func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool
}

var (
	// Authenticated passes for any authenticated caller
	Authenticated = Predicate{
		Name: "authentication",
		Allow: func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool {
			return caller != nil
		},
	}

	// InOrganization passes when the request resolved to a real organization
	InOrganization = Predicate{
		Name: "organization",
		Allow: func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool {
			return tenant.Exists()
		},
	}

	// Member passes for any active member, admins and the owner included
	Member = rolePredicate("member role", orgs.RoleMember)

	// Admin passes for admins and the owner
	Admin = rolePredicate("admin role", orgs.RoleAdmin)

	// Owner passes only for the organization's owner
	Owner = rolePredicate("owner role", orgs.RoleOwner)

	// PlatformAdministrator passes for members of the platform-admin organization
	PlatformAdministrator = Predicate{
		Name: "platform administrator",
		Allow: func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool {
			return caller != nil && tenant.PlatformAdmin() && tenant.IsMember(ctx, caller.UserID)
		},
	}
)

func rolePredicate(name string, min orgs.Role) Predicate {
	return Predicate{
		Name: name,
		Allow: func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool {
			if caller == nil {
				return false
			}
			return tenant.RoleOf(ctx, caller.UserID).AtLeast(min)
		},
	}
}

// HasOrganization is implemented by resources owned by an organization, either
// directly (Batch) or through a parent (Passport via its Batch). ok is false
// when the owner is unknown; such resources are never accessible.
type HasOrganization interface {
	OwningOrganization() (orgID uuid.UUID, ok bool)
}
