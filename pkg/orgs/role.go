package orgs

// Role is a caller's standing within an organization
type Role string

const (
	RoleNone   Role = "none"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleNone:   0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// AtLeast reports whether r grants everything min grants
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[r] > 0
}

// MemberEnum is the display label of a role
type MemberEnum string

const (
	MemberEnumSuperAdmin MemberEnum = "superadmin"
	MemberEnumAdmin      MemberEnum = "admin"
	MemberEnumMember     MemberEnum = "member"
)

// Label returns the display label, or "" for non-members
func (r Role) Label() MemberEnum {
	switch r {
	case RoleOwner:
		return MemberEnumSuperAdmin
	case RoleAdmin:
		return MemberEnumAdmin
	case RoleMember:
		return MemberEnumMember
	}
	return ""
}

// RoleOf derives the role m grants within org. The owner is the membership the
// organization's owner pointer names; admin and member follow the flags. Inactive
// memberships and memberships of other organizations grant nothing.
func RoleOf(org *Organization, m *Membership) Role {
	if org == nil || m == nil || !m.IsActive || m.OrganizationID != org.ID {
		return RoleNone
	}
	if m.ID == org.OwnerMembershipID {
		return RoleOwner
	}
	if m.IsAdmin {
		return RoleAdmin
	}
	return RoleMember
}
