package orgs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timezone is one of the zones an organization may operate in
type Timezone string

const (
	TimezoneKinshasa   Timezone = "Africa/Kinshasa"
	TimezoneLubumbashi Timezone = "Africa/Lubumbashi"
	TimezoneDakar      Timezone = "Africa/Dakar"
	TimezoneNairobi    Timezone = "Africa/Nairobi"
)

// Defaults for new organizations
const (
	DefaultCountry  = "CD"
	DefaultTimezone = TimezoneLubumbashi
)

// Valid reports whether tz is a supported timezone
func (tz Timezone) Valid() bool {
	switch tz {
	case TimezoneKinshasa, TimezoneLubumbashi, TimezoneDakar, TimezoneNairobi:
		return true
	}
	return false
}

// Organization is a tenant. It owns memberships and batches.
type Organization struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description"`
	Email           *string   `json:"email,omitempty"`
	Phone           *string   `json:"phone,omitempty"`
	Location        string    `json:"location"`
	Address         string    `json:"address"`
	PostalCode      string    `json:"postal_code"`
	Country         string    `json:"country"`
	Timezone        Timezone  `json:"timezone"`
	IsActive        bool      `json:"is_active"`
	IsPlatformAdmin bool      `json:"is_platform_admin"`
	// MaxUsers caps active memberships; nil is unlimited
	MaxUsers          *int      `json:"max_users,omitempty"`
	OwnerMembershipID uuid.UUID `json:"owner_membership_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Membership joins a user to an organization. The role is derived, see RoleOf.
type Membership struct {
	ID                 uuid.UUID  `json:"id"`
	OrganizationID     uuid.UUID  `json:"organization_id"`
	UserID             uuid.UUID  `json:"user_id"`
	Email              string     `json:"email"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	IsAdmin            bool       `json:"is_admin"`
	IsActive           bool       `json:"is_active"`
	EmailNotifications bool       `json:"email_notifications"`
	JoinedAt           time.Time  `json:"joined_at"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`

	// Role and Label are filled in by listings
	Role  Role       `json:"role,omitempty"`
	Label MemberEnum `json:"label,omitempty"`
}

// OrganizationWithRole is an organization annotated with the caller's role
type OrganizationWithRole struct {
	*Organization
	Role  Role       `json:"role"`
	Label MemberEnum `json:"label"`
}

// CreateRequest represents request to create an organization
type CreateRequest struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	Email       *string  `json:"email,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Location    string   `json:"location,omitempty"`
	Address     string   `json:"address,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	Country     string   `json:"country,omitempty"`
	Timezone    Timezone `json:"timezone,omitempty"`
	MaxUsers    *int     `json:"max_users,omitempty"`
	// IsPlatformAdmin is only honored for bootstrap callers such as passportctl
	IsPlatformAdmin bool `json:"-"`
}

// UpdateRequest patches an organization. Nil fields are left unchanged.
type UpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Address     *string   `json:"address,omitempty"`
	PostalCode  *string   `json:"postal_code,omitempty"`
	Country     *string   `json:"country,omitempty"`
	Timezone    *Timezone `json:"timezone,omitempty"`
	MaxUsers    *int      `json:"max_users,omitempty"`
}

// SlugCheck reports whether a slug is free
type SlugCheck struct {
	Slug       string `json:"slug"`
	Available  bool   `json:"available"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Selector picks an organization by id or by slug
type Selector struct {
	ID   uuid.UUID
	Slug string
}

// ByID selects an organization by id
func ByID(id uuid.UUID) Selector { return Selector{ID: id} }

// BySlug selects an organization by slug
func BySlug(slug string) Selector { return Selector{Slug: slug} }

// ParseSelector reads a raw identifier: a UUID selects by id, anything else by slug
func ParseSelector(raw string) Selector {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return ByID(id)
	}
	return BySlug(raw)
}

// IsZero reports whether the selector names nothing
func (s Selector) IsZero() bool {
	return s.ID == uuid.Nil && s.Slug == ""
}

// Key is the cache key of the selector
func (s Selector) Key() string {
	if s.ID != uuid.Nil {
		return "id:" + s.ID.String()
	}
	return "slug:" + s.Slug
}

// Slugify derives a slug from a display name
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
