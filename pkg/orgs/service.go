package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/storage"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
	"github.com/platinummonkey/passportd/pkg/users"
)

// Inviter dispatches invitations and added-to-organization notices. The
// membership itself is created when the invitation is accepted.
type Inviter interface {
	InviteByEmail(ctx context.Context, org *Organization, email string, isAdmin bool, sender *users.User) error
	SendNotification(ctx context.Context, user *users.User, org *Organization, isAdmin bool, sender *users.User) error
}

// Invalidator drops cached lookups after a write
type Invalidator interface {
	InvalidateOrganization(ctx context.Context, org *Organization)
	InvalidateMembership(ctx context.Context, orgID, userID uuid.UUID)
}

// DeleteHook cascades an organization soft delete to rows owned by other
// packages. It runs inside the delete transaction.
type DeleteHook func(ctx context.Context, tx storage.DBTX, orgID uuid.UUID, now time.Time) error

// Service orchestrates organization creation, activation and membership changes
type Service struct {
	db      *sql.DB
	store   *Store
	reader  *Store
	users   *users.Store
	inviter Inviter
	cache   Invalidator
	hooks   []DeleteHook
	logger  *observability.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithInviter sets the invitation backend used by AddOrganizationUser
func WithInviter(inviter Inviter) Option {
	return func(s *Service) { s.inviter = inviter }
}

// WithInvalidator sets the cache invalidated after writes
func WithInvalidator(cache Invalidator) Option {
	return func(s *Service) { s.cache = cache }
}

// WithDeleteHook adds a cascade step to DeleteOrganization
func WithDeleteHook(hook DeleteHook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, hook) }
}

// WithReadReplica serves the organization and member listings from reader
func WithReadReplica(reader storage.DBTX) Option {
	return func(s *Service) { s.reader = NewStore(reader) }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an organization service
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:    db,
		store: NewStore(db),
		users: users.NewStore(db),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reader == nil {
		s.reader = s.store
	}
	s.logger = observability.OrDefault(s.logger).WithField("component", "orgs")
	return s
}

// SetInviter sets the invitation backend after construction. The invitation
// service depends on this one, so it is wired last.
func (s *Service) SetInviter(inviter Inviter) {
	s.inviter = inviter
}

// Store returns the service's store
func (s *Service) Store() *Store {
	return s.store
}

// Organization retrieves a non-deleted organization
func (s *Service) Organization(ctx context.Context, sel Selector) (*Organization, error) {
	return s.store.Organization(ctx, sel)
}

// PlatformAdminOrganization returns the platform-admin organization or a
// ConfigurationFatal error
func (s *Service) PlatformAdminOrganization(ctx context.Context) (*Organization, error) {
	return s.store.PlatformAdminOrganization(ctx)
}

// CreateOrganization creates the organization, the creator's admin membership
// and the owner pointer in one transaction
func (s *Service) CreateOrganization(ctx context.Context, creator *users.User, req CreateRequest) (*Organization, error) {
	if creator == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	org, err := s.newOrganization(req)
	if err != nil {
		return nil, err
	}

	membership := &Membership{
		ID:                 uuid.New(),
		OrganizationID:     org.ID,
		UserID:             creator.ID,
		Email:              creator.Email,
		FirstName:          creator.FirstName,
		LastName:           creator.LastName,
		IsAdmin:            true,
		IsActive:           true,
		EmailNotifications: true,
		JoinedAt:           org.CreatedAt,
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		taken, err := store.SlugTaken(ctx, org.Slug)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("an organization with slug %q already exists", org.Slug)
		}
		if err := store.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := store.CreateMembership(ctx, membership); err != nil {
			return err
		}
		return store.SetOwner(ctx, org.ID, membership.ID)
	})
	if err != nil {
		return nil, err
	}

	org.OwnerMembershipID = membership.ID
	s.logger.WithFields(map[string]interface{}{
		"organization": org.Slug,
		"owner":        creator.ID.String(),
	}).Info("organization created")
	return org, nil
}

func (s *Service) newOrganization(req CreateRequest) (*Organization, error) {
	if req.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	slug := Slugify(req.Name)
	if req.Slug != "" {
		slug = Slugify(req.Slug)
	}
	if slug == "" {
		return nil, apperr.Validation("name must contain letters or digits")
	}
	tz := req.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	if !tz.Valid() {
		return nil, apperr.Validation("unsupported timezone %q", tz)
	}
	if req.MaxUsers != nil && *req.MaxUsers < 1 {
		return nil, apperr.Validation("max_users must be at least 1")
	}
	country := req.Country
	if country == "" {
		country = DefaultCountry
	}

	now := s.now()
	return &Organization{
		ID:              uuid.New(),
		Name:            req.Name,
		Slug:            slug,
		Description:     req.Description,
		Email:           req.Email,
		Phone:           req.Phone,
		Location:        req.Location,
		Address:         req.Address,
		PostalCode:      req.PostalCode,
		Country:         country,
		Timezone:        tz,
		IsActive:        true,
		IsPlatformAdmin: req.IsPlatformAdmin,
		MaxUsers:        req.MaxUsers,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// UpdateOrganization patches the fields present in req and returns the result
func (s *Service) UpdateOrganization(ctx context.Context, org *Organization, req UpdateRequest) (*Organization, error) {
	if req.Name != nil && *req.Name == "" {
		return nil, apperr.Validation("name cannot be empty")
	}
	if req.Timezone != nil && !req.Timezone.Valid() {
		return nil, apperr.Validation("unsupported timezone %q", *req.Timezone)
	}
	if req.MaxUsers != nil && *req.MaxUsers < 1 {
		return nil, apperr.Validation("max_users must be at least 1")
	}

	if err := s.store.UpdateOrganization(ctx, org.ID, req, s.now()); err != nil {
		return nil, err
	}
	s.invalidateOrganization(ctx, org)
	return s.store.Organization(ctx, ByID(org.ID))
}

// ActivateOrganization activates org on behalf of its owner
func (s *Service) ActivateOrganization(ctx context.Context, org *Organization, userID uuid.UUID) (*Organization, error) {
	return s.setActive(ctx, org, userID, true)
}

// DeactivateOrganization deactivates org on behalf of its owner
func (s *Service) DeactivateOrganization(ctx context.Context, org *Organization, userID uuid.UUID) (*Organization, error) {
	return s.setActive(ctx, org, userID, false)
}

func (s *Service) setActive(ctx context.Context, org *Organization, userID uuid.UUID, active bool) (*Organization, error) {
	current, err := s.store.Organization(ctx, ByID(org.ID))
	if err != nil {
		return nil, err
	}
	role, err := s.RoleOf(ctx, current, userID)
	if err != nil {
		return nil, err
	}
	if role != RoleOwner {
		return nil, apperr.Denied("only the organization owner can change its active state")
	}
	if current.IsActive == active {
		if active {
			return nil, apperr.DomainState("organization is already active")
		}
		return nil, apperr.DomainState("organization is already inactive")
	}

	if err := s.store.SetActive(ctx, current.ID, active, s.now()); err != nil {
		return nil, err
	}
	s.invalidateOrganization(ctx, current)

	current.IsActive = active
	s.logger.WithFields(map[string]interface{}{
		"organization": current.Slug,
		"active":       active,
	}).Info("organization active state changed")
	return current, nil
}

// AddOrganizationUser validates the addition of email to org and dispatches an
// invitation for an unknown address or a notification for an existing account
func (s *Service) AddOrganizationUser(ctx context.Context, org *Organization, email string, isAdmin bool, sender *users.User) error {
	email = users.NormalizeEmail(email)
	if email == "" {
		return apperr.Validation("email is required")
	}

	_, err := s.store.ActiveMembershipByEmail(ctx, org.ID, email)
	if err == nil {
		return apperr.Validation("a user with email %s is already a member of this organization", email)
	}
	if !apperr.IsNotFound(err) {
		return err
	}

	if !org.IsActive {
		return apperr.DomainState("organization is inactive")
	}
	if !Bind(org, s.store).CanAddUser(ctx) {
		return apperr.Validation("member limit reached")
	}
	if s.inviter == nil {
		return fmt.Errorf("no invitation backend configured")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return s.inviter.InviteByEmail(ctx, org, email, isAdmin, sender)
	}
	if err != nil {
		return err
	}
	return s.inviter.SendNotification(ctx, user, org, isAdmin, sender)
}

// RemoveOrganizationUser soft-removes the active membership of userID and
// reports whether one existed. The owner's membership is never removed.
func (s *Service) RemoveOrganizationUser(ctx context.Context, org *Organization, userID uuid.UUID) (bool, error) {
	current, err := s.store.Organization(ctx, ByID(org.ID))
	if err != nil {
		return false, err
	}
	m, err := s.store.Membership(ctx, current.ID, userID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.ID == current.OwnerMembershipID {
		return false, apperr.Denied("the organization owner cannot be removed")
	}

	removed, err := s.store.DeactivateMembership(ctx, current.ID, userID)
	if err != nil {
		return false, err
	}
	if removed {
		s.invalidateMembership(ctx, current.ID, userID)
	}
	return removed, nil
}

// RoleOf derives the role of userID in org from the store
func (s *Service) RoleOf(ctx context.Context, org *Organization, userID uuid.UUID) (Role, error) {
	m, err := s.store.Membership(ctx, org.ID, userID)
	if apperr.IsNotFound(err) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return RoleOf(org, m), nil
}

// UserCanManageOrganization reports whether userID is an admin or the owner of org
func (s *Service) UserCanManageOrganization(ctx context.Context, org *Organization, userID uuid.UUID) (bool, error) {
	role, err := s.RoleOf(ctx, org, userID)
	if err != nil {
		return false, err
	}
	return role.AtLeast(RoleAdmin), nil
}

// IsAdminUser reports whether userID holds admin rights in org. Ownership
// implies admin whatever the stored flag says.
func (s *Service) IsAdminUser(ctx context.Context, org *Organization, userID uuid.UUID) (bool, error) {
	return s.UserCanManageOrganization(ctx, org, userID)
}

// UserOrganizations lists the organizations userID belongs to with their role
func (s *Service) UserOrganizations(ctx context.Context, userID uuid.UUID) ([]*OrganizationWithRole, error) {
	return s.reader.UserOrganizations(ctx, userID)
}

// OrganizationUsers lists the active members of org with their role
func (s *Service) OrganizationUsers(ctx context.Context, org *Organization) ([]*Membership, error) {
	members, err := s.reader.Members(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		m.Role = RoleOf(org, m)
		m.Label = m.Role.Label()
	}
	return members, nil
}

// CheckSlug reports whether slug is free and suggests a free variant when not
func (s *Service) CheckSlug(ctx context.Context, slug string) (*SlugCheck, error) {
	slug = Slugify(slug)
	if slug == "" {
		return nil, apperr.Validation("slug must contain letters or digits")
	}
	taken, err := s.store.SlugTaken(ctx, slug)
	if err != nil {
		return nil, err
	}
	check := &SlugCheck{Slug: slug, Available: !taken}
	if !taken {
		return check, nil
	}

	for i := 2; i <= 100; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		taken, err := s.store.SlugTaken(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !taken {
			check.Suggestion = candidate
			return check, nil
		}
	}
	check.Suggestion = slug + "-" + uuid.NewString()[:8]
	return check, nil
}

// DeleteOrganization soft-deletes org on behalf of its owner, cascading to its
// memberships and every registered hook in one transaction
func (s *Service) DeleteOrganization(ctx context.Context, org *Organization, userID uuid.UUID) error {
	role, err := s.RoleOf(ctx, org, userID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return apperr.Denied("only the organization owner can delete it")
	}

	now := s.now()
	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := NewStore(tx).SoftDelete(ctx, org.ID, now); err != nil {
			return err
		}
		for _, hook := range s.hooks {
			if err := hook(ctx, tx, org.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateOrganization(ctx, org)
	s.logger.WithField("organization", org.Slug).Info("organization deleted")
	return nil
}

func (s *Service) invalidateOrganization(ctx context.Context, org *Organization) {
	if s.cache != nil {
		s.cache.InvalidateOrganization(ctx, org)
	}
}

func (s *Service) invalidateMembership(ctx context.Context, orgID, userID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateMembership(ctx, orgID, userID)
	}
}
