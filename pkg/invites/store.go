package invites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/storage"
)

// Store persists invitations
type Store struct {
	db storage.DBTX
}

// NewStore creates an invitation store over db, which may be a *sql.DB or a *sql.Tx
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

const invitationColumns = `i.id, i.organization_id, i.user_id, i.email, i.invited_by, i.is_admin,
	i.expires_at, i.accepted_at, i.created_at`

func scanInvitation(row interface{ Scan(...interface{}) error }) (*Invitation, error) {
	inv := &Invitation{}
	var invitedBy uuid.NullUUID
	var acceptedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.UserID, &inv.Email, &invitedBy, &inv.IsAdmin,
		&inv.ExpiresAt, &acceptedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		inv.InvitedBy = &invitedBy.UUID
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time.UTC()
		inv.AcceptedAt = &t
	}
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, nil
}

// Create inserts inv with the hash of its token
func (s *Store) Create(ctx context.Context, inv *Invitation, tokenHash string) error {
	query := `
		INSERT INTO invitations (id, organization_id, user_id, email, invited_by, is_admin, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var invitedBy interface{}
	if inv.InvitedBy != nil {
		invitedBy = *inv.InvitedBy
	}
	_, err := s.db.ExecContext(ctx, query, inv.ID, inv.OrganizationID, inv.UserID, inv.Email,
		invitedBy, inv.IsAdmin, tokenHash, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// Get retrieves an invitation by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations i WHERE i.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// FindPending returns the unaccepted, unexpired invitation of userID whose
// token hashes to tokenHash
func (s *Store) FindPending(ctx context.Context, userID uuid.UUID, tokenHash string, now time.Time) (*Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations i
		WHERE i.token_hash = $1 AND i.user_id = $2 AND i.accepted_at IS NULL AND i.expires_at > $3
	`
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, tokenHash, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

// PendingForUser lists the usable invitations of userID into organizations
// that still exist, oldest first
func (s *Store) PendingForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations i
		JOIN organizations o ON o.id = i.organization_id AND o.deleted_at IS NULL
		WHERE i.user_id = $1 AND i.accepted_at IS NULL AND i.expires_at > $2
		ORDER BY i.created_at, i.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// MarkAccepted stamps every usable invitation of userID as accepted
func (s *Store) MarkAccepted(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET accepted_at = $1
		WHERE user_id = $2 AND accepted_at IS NULL AND expires_at > $1
	`, now, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to accept invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Rotate replaces the token of an unaccepted invitation and moves its expiry
func (s *Store) Rotate(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET token_hash = $1, expires_at = $2 WHERE id = $3 AND accepted_at IS NULL`,
		tokenHash, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to rotate invitation token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("invitation not found")
	}
	return nil
}

// DeleteExpired removes unaccepted invitations whose expiry is at or before now
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
