package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/storage"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
)

// Store persists organizations, memberships and owner pointers. Deleted rows are
// invisible to every read.
type Store struct {
	db storage.DBTX
}

// NewStore creates an organization store over db, which may be a *sql.DB or a *sql.Tx
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

const orgSelect = `
	SELECT o.id, o.name, o.slug, o.description, o.email, o.phone, o.location, o.address,
	       o.postal_code, o.country, o.timezone, o.is_active, o.is_platform_admin, o.max_users,
	       ow.membership_id, o.created_at, o.updated_at
	FROM organizations o
	LEFT JOIN organization_owners ow ON ow.organization_id = o.id
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row scanner) (*Organization, error) {
	org := &Organization{}
	var (
		email, phone sql.NullString
		maxUsers     sql.NullInt64
		owner        uuid.NullUUID
		timezone     string
	)
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &email, &phone,
		&org.Location, &org.Address, &org.PostalCode, &org.Country, &timezone,
		&org.IsActive, &org.IsPlatformAdmin, &maxUsers, &owner, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	org.Timezone = Timezone(timezone)
	if email.Valid {
		org.Email = &email.String
	}
	if phone.Valid {
		org.Phone = &phone.String
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		org.MaxUsers = &n
	}
	if owner.Valid {
		org.OwnerMembershipID = owner.UUID
	}
	return org, nil
}

const membershipSelect = `
	SELECT m.id, m.organization_id, m.user_id, u.email, u.first_name, u.last_name,
	       m.is_admin, m.is_active, m.email_notifications, m.joined_at, m.last_activity
	FROM organization_members m
	JOIN users u ON u.id = m.user_id
`

func scanMembership(row scanner) (*Membership, error) {
	m := &Membership{}
	var lastActivity sql.NullTime
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Email, &m.FirstName, &m.LastName,
		&m.IsAdmin, &m.IsActive, &m.EmailNotifications, &m.JoinedAt, &lastActivity)
	if err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		m.LastActivity = &lastActivity.Time
	}
	return m, nil
}

// Organization retrieves a non-deleted organization by id or slug
func (s *Store) Organization(ctx context.Context, sel Selector) (*Organization, error) {
	var (
		query string
		arg   interface{}
	)
	switch {
	case sel.ID != uuid.Nil:
		query, arg = orgSelect+` WHERE o.id = $1 AND o.deleted_at IS NULL`, sel.ID
	case sel.Slug != "":
		query, arg = orgSelect+` WHERE o.slug = $1 AND o.deleted_at IS NULL`, sel.Slug
	default:
		return nil, apperr.NotFound("organization not found")
	}

	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// PlatformAdminOrganization returns the earliest created platform-admin organization
func (s *Store) PlatformAdminOrganization(ctx context.Context) (*Organization, error) {
	query := orgSelect + `
		WHERE o.is_platform_admin = TRUE AND o.deleted_at IS NULL
		ORDER BY o.created_at ASC
		LIMIT 1
	`
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ConfigurationFatal("no platform administrator organization is configured")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform admin organization: %w", err)
	}
	return org, nil
}

// Membership retrieves the membership of userID in orgID, active or not
func (s *Store) Membership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	query := membershipSelect + ` WHERE m.organization_id = $1 AND m.user_id = $2 AND m.deleted_at IS NULL`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ActiveMembershipByEmail finds the active membership of the account with email
func (s *Store) ActiveMembershipByEmail(ctx context.Context, orgID uuid.UUID, email string) (*Membership, error) {
	query := membershipSelect + `
		WHERE m.organization_id = $1 AND u.email = $2
		  AND m.is_active = TRUE AND m.deleted_at IS NULL
	`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, orgID, strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership by email: %w", err)
	}
	return m, nil
}

// CountActiveMembers counts the active memberships of orgID
func (s *Store) CountActiveMembers(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND is_active = TRUE AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// SlugTaken reports whether any organization row holds slug. Deleted
// organizations keep their slug reserved.
func (s *Store) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations WHERE slug = $1`, slug).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

// CreateOrganization inserts org. A duplicate slug is a Conflict.
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	var maxUsers interface{}
	if org.MaxUsers != nil {
		maxUsers = int64(*org.MaxUsers)
	}
	query := `
		INSERT INTO organizations (
			id, name, slug, description, email, phone, location, address, postal_code,
			country, timezone, is_active, is_platform_admin, max_users, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.db.ExecContext(ctx, query, org.ID, org.Name, org.Slug, org.Description, org.Email,
		org.Phone, org.Location, org.Address, org.PostalCode, org.Country, string(org.Timezone),
		org.IsActive, org.IsPlatformAdmin, maxUsers, org.CreatedAt, org.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return apperr.Conflict("an organization with slug %q already exists", org.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// CreateMembership inserts m. A second membership for the same pair is a Conflict.
func (s *Store) CreateMembership(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO organization_members (id, organization_id, user_id, is_admin, is_active, email_notifications, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, m.ID, m.OrganizationID, m.UserID, m.IsAdmin, m.IsActive,
		m.EmailNotifications, m.JoinedAt)
	if postgres.IsUniqueViolation(err) {
		return apperr.Conflict("user is already a member of this organization")
	}
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// SetOwner records membershipID as the owner of orgID
func (s *Store) SetOwner(ctx context.Context, orgID, membershipID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organization_owners (organization_id, membership_id) VALUES ($1, $2)`,
		orgID, membershipID)
	if postgres.IsUniqueViolation(err) {
		return apperr.Conflict("organization already has an owner")
	}
	if err != nil {
		return fmt.Errorf("failed to set owner: %w", err)
	}
	return nil
}

// UpsertMembership grants userID a membership in orgID. An inactive row left by
// an earlier removal is replaced by a fresh membership; an active one is kept.
func (s *Store) UpsertMembership(ctx context.Context, orgID, userID uuid.UUID, isAdmin bool, now time.Time) error {
	query := `
		INSERT INTO organization_members (id, organization_id, user_id, is_admin, is_active, email_notifications, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, $5)
		ON CONFLICT (organization_id, user_id) DO UPDATE
		SET id = excluded.id, is_admin = excluded.is_admin, is_active = TRUE,
		    joined_at = excluded.joined_at, last_activity = NULL, deleted_at = NULL
		WHERE organization_members.is_active = FALSE OR organization_members.deleted_at IS NOT NULL
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.New(), orgID, userID, isAdmin, now); err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// UpdateOrganization applies the non-nil fields of req to orgID
func (s *Store) UpdateOrganization(ctx context.Context, orgID uuid.UUID, req UpdateRequest, now time.Time) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	add := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Email != nil {
		add("email", *req.Email)
	}
	if req.Phone != nil {
		add("phone", *req.Phone)
	}
	if req.Location != nil {
		add("location", *req.Location)
	}
	if req.Address != nil {
		add("address", *req.Address)
	}
	if req.PostalCode != nil {
		add("postal_code", *req.PostalCode)
	}
	if req.Country != nil {
		add("country", *req.Country)
	}
	if req.Timezone != nil {
		add("timezone", string(*req.Timezone))
	}
	if req.MaxUsers != nil {
		add("max_users", int64(*req.MaxUsers))
	}

	if len(setClauses) == 0 {
		return nil
	}
	add("updated_at", now)

	args = append(args, orgID)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d AND deleted_at IS NULL",
		strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return requireRow(result, "organization not found")
}

// SetActive sets the active flag of orgID
func (s *Store) SetActive(ctx context.Context, orgID uuid.UUID, active bool, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET is_active = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		active, now, orgID)
	if err != nil {
		return fmt.Errorf("failed to set organization active state: %w", err)
	}
	return requireRow(result, "organization not found")
}

// DeactivateMembership soft-removes the active membership of userID, reporting
// whether one was found
func (s *Store) DeactivateMembership(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE organization_members SET is_active = FALSE
		WHERE organization_id = $1 AND user_id = $2 AND is_active = TRUE AND deleted_at IS NULL
	`, orgID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchMembership records activity of userID in orgID
func (s *Store) TouchMembership(ctx context.Context, orgID, userID uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organization_members SET last_activity = $1
		WHERE organization_id = $2 AND user_id = $3 AND deleted_at IS NULL
	`, now, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// SoftDelete marks orgID and its memberships deleted
func (s *Store) SoftDelete(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET deleted_at = $1, is_active = FALSE, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`, now, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if err := requireRow(result, "organization not found"); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE organization_members SET deleted_at = $1, is_active = FALSE
		WHERE organization_id = $2 AND deleted_at IS NULL
	`, now, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	return nil
}

// UserOrganizations lists the active organizations userID actively belongs to,
// ordered by name, with the user's membership
func (s *Store) UserOrganizations(ctx context.Context, userID uuid.UUID) ([]*OrganizationWithRole, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.description, o.email, o.phone, o.location, o.address,
		       o.postal_code, o.country, o.timezone, o.is_active, o.is_platform_admin, o.max_users,
		       ow.membership_id, o.created_at, o.updated_at,
		       m.id, m.is_admin
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		LEFT JOIN organization_owners ow ON ow.organization_id = o.id
		WHERE m.user_id = $1 AND m.is_active = TRUE AND m.deleted_at IS NULL
		  AND o.is_active = TRUE AND o.deleted_at IS NULL
		ORDER BY o.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var result []*OrganizationWithRole
	for rows.Next() {
		var (
			membershipID uuid.UUID
			isAdmin      bool
		)
		org, err := scanOrganization(rowWithTail{rows, []interface{}{&membershipID, &isAdmin}})
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		role := RoleOf(org, &Membership{ID: membershipID, OrganizationID: org.ID, UserID: userID, IsAdmin: isAdmin, IsActive: true})
		result = append(result, &OrganizationWithRole{Organization: org, Role: role, Label: role.Label()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return result, nil
}

// Members lists the active memberships of orgID by join date
func (s *Store) Members(ctx context.Context, orgID uuid.UUID) ([]*Membership, error) {
	query := membershipSelect + `
		WHERE m.organization_id = $1 AND m.is_active = TRUE AND m.deleted_at IS NULL
		ORDER BY m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// rowWithTail scans trailing columns after the organization columns
type rowWithTail struct {
	row  scanner
	tail []interface{}
}

func (r rowWithTail) Scan(dest ...interface{}) error {
	return r.row.Scan(append(dest, r.tail...)...)
}

func requireRow(result sql.Result, notFound string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("%s", notFound)
	}
	return nil
}
