package orgs

import (
	"context"

	"github.com/google/uuid"
)

// Directory answers the organization lookups the request path needs. The cache
// and the store both implement it.
type Directory interface {
	Organization(ctx context.Context, sel Selector) (*Organization, error)
	// Membership returns the (organization, user) membership, active or not
	Membership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	// PlatformAdminOrganization returns the earliest platform-admin organization,
	// or a ConfigurationFatal error when none exists
	PlatformAdminOrganization(ctx context.Context) (*Organization, error)
	CountActiveMembers(ctx context.Context, orgID uuid.UUID) (int, error)
}

// Tenant is the organization a request runs against. Null stands in when none
// could be resolved and denies every capability.
type Tenant interface {
	Exists() bool
	ID() uuid.UUID
	Slug() string
	Name() string
	Active() bool
	PlatformAdmin() bool
	// Organization returns the underlying record, nil for Null
	Organization() *Organization
	RoleOf(ctx context.Context, userID uuid.UUID) Role
	IsOwner(ctx context.Context, userID uuid.UUID) bool
	IsAdmin(ctx context.Context, userID uuid.UUID) bool
	IsMember(ctx context.Context, userID uuid.UUID) bool
	CanAddUser(ctx context.Context) bool
}

// Null is the tenant of requests without a resolvable organization
var Null Tenant = nullTenant{}

type nullTenant struct{}

func (nullTenant) Exists() bool { return false }
func (nullTenant) ID() uuid.UUID { return uuid.Nil }
func (nullTenant) Slug() string { return "" }
func (nullTenant) Name() string { return "" }
func (nullTenant) Active() bool { return false }
func (nullTenant) PlatformAdmin() bool { return false }
func (nullTenant) Organization() *Organization { return nil }
func (nullTenant) RoleOf(context.Context, uuid.UUID) Role { return RoleNone }
func (nullTenant) IsOwner(context.Context, uuid.UUID) bool { return false }
func (nullTenant) IsAdmin(context.Context, uuid.UUID) bool { return false }
func (nullTenant) IsMember(context.Context, uuid.UUID) bool { return false }
func (nullTenant) CanAddUser(context.Context) bool { return false }

// boundTenant is a resolved organization whose membership questions go to dir
type boundTenant struct {
	org *Organization
	dir Directory
}

// Bind wraps a loaded organization as a Tenant. A nil org yields Null.
func Bind(org *Organization, dir Directory) Tenant {
	if org == nil {
		return Null
	}
	return &boundTenant{org: org, dir: dir}
}

// Resolve looks up raw and binds the result. Every failure, including a blank
// identifier, yields Null.
func Resolve(ctx context.Context, dir Directory, raw string) Tenant {
	sel := ParseSelector(raw)
	if sel.IsZero() {
		return Null
	}
	org, err := dir.Organization(ctx, sel)
	if err != nil || org == nil {
		return Null
	}
	return Bind(org, dir)
}

func (t *boundTenant) Exists() bool { return true }
func (t *boundTenant) ID() uuid.UUID { return t.org.ID }
func (t *boundTenant) Slug() string { return t.org.Slug }
func (t *boundTenant) Name() string { return t.org.Name }
func (t *boundTenant) Active() bool { return t.org.IsActive }
func (t *boundTenant) PlatformAdmin() bool { return t.org.IsPlatformAdmin }
func (t *boundTenant) Organization() *Organization { return t.org }

// RoleOf fails closed: a lookup error grants no role
func (t *boundTenant) RoleOf(ctx context.Context, userID uuid.UUID) Role {
	if userID == uuid.Nil {
		return RoleNone
	}
	m, err := t.dir.Membership(ctx, t.org.ID, userID)
	if err != nil {
		return RoleNone
	}
	return RoleOf(t.org, m)
}

func (t *boundTenant) IsOwner(ctx context.Context, userID uuid.UUID) bool {
	return t.RoleOf(ctx, userID) == RoleOwner
}

func (t *boundTenant) IsAdmin(ctx context.Context, userID uuid.UUID) bool {
	return t.RoleOf(ctx, userID).AtLeast(RoleAdmin)
}

func (t *boundTenant) IsMember(ctx context.Context, userID uuid.UUID) bool {
	return t.RoleOf(ctx, userID).AtLeast(RoleMember)
}

// CanAddUser reports whether the organization is active and below its seat limit
func (t *boundTenant) CanAddUser(ctx context.Context) bool {
	if !t.org.IsActive {
		return false
	}
	if t.org.MaxUsers == nil {
		return true
	}
	count, err := t.dir.CountActiveMembers(ctx, t.org.ID)
	if err != nil {
		return false
	}
	return count < *t.org.MaxUsers
}
