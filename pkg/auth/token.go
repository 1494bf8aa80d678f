package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/storage"
)

const (
	// TokenPrefix identifies passportd tokens
	TokenPrefix = "pp_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: pp_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix returns the displayable start of a token
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// TokenManager manages API token lifecycle against the api_tokens table
type TokenManager struct {
	db        storage.DBTX
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(db storage.DBTX) *TokenManager {
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateToken issues a token for userID. The plaintext token is returned once and
// only its hash is stored. A zero ttl never expires.
func (tm *TokenManager) CreateToken(ctx context.Context, userID uuid.UUID, name string, ttl time.Duration) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := tm.now()
	apiToken := &APIToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		CreatedAt:   now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		apiToken.ExpiresAt = &expiresAt
	}

	query := `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tm.db.ExecContext(ctx, query, apiToken.ID, apiToken.UserID, apiToken.TokenHash,
		apiToken.TokenPrefix, apiToken.Name, apiToken.ExpiresAt, apiToken.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return apiToken, token, nil
}

// Authenticate resolves a bearer token to the identity of its active owner.
// Unknown, revoked and expired tokens are all Unauthenticated.
func (tm *TokenManager) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, apperr.Unauthenticated("invalid token format")
	}

	query := `
		SELECT t.id, t.expires_at, u.id, u.email, u.is_superuser
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1 AND t.revoked_at IS NULL
		  AND u.is_active = TRUE AND u.deleted_at IS NULL
	`
	var (
		identity  Identity
		expiresAt sql.NullTime
	)
	err := tm.db.QueryRowContext(ctx, query, tm.generator.HashToken(token)).
		Scan(&identity.TokenID, &expiresAt, &identity.UserID, &identity.Email, &identity.IsSuperuser)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Unauthenticated("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := tm.now()
	if expiresAt.Valid && !now.Before(expiresAt.Time) {
		return nil, apperr.Unauthenticated("token expired")
	}

	if _, err := tm.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, identity.TokenID); err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}

	return &identity, nil
}

// RevokeToken revokes one of userID's tokens
func (tm *TokenManager) RevokeToken(ctx context.Context, tokenID, userID uuid.UUID) error {
	res, err := tm.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL`,
		tm.now(), tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("token not found")
	}
	return nil
}
