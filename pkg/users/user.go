package users

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
	"golang.org/x/crypto/bcrypt"
)

// User is an account that can hold organization memberships
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName joins the first and last name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail lowercases and trims an email address. Emails are stored normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Store persists users
type Store struct {
	db storage.DBTX
}

// NewStore creates a user store over db, which may be a *sql.DB or a *sql.Tx
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, first_name, last_name, password_hash, is_active, is_staff, is_superuser, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts u, assigning its id and timestamps. A taken email is a Conflict.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return apperr.Validation("email is required")
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash,
		u.IsActive, u.IsStaff, u.IsSuperuser, u.CreatedAt, u.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return apperr.Conflict("a user with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update writes the mutable fields of u
func (s *Store) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE users
		SET first_name = $1, last_name = $2, password_hash = $3, is_active = $4,
		    is_staff = $5, is_superuser = $6, updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, u.FirstName, u.LastName, u.PasswordHash, u.IsActive,
		u.IsStaff, u.IsSuperuser, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, u.ID)
}

// Get retrieves a user by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, ignoring case
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// SetPassword stores a new password hash and activates the account
func (s *Store) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $1, is_active = TRUE, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return requireRow(res, id)
}

// Authenticate checks email and password against an active account. Every
// failure reads the same so callers cannot probe for accounts.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !CheckPassword(u.PasswordHash, password) {
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	return u, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}
