package passport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/storage"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
)

// Store persists batches and passports. Every read excludes soft-deleted rows.
type Store struct {
	db storage.DBTX
}

// NewStore creates a store over a database handle or transaction
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const batchColumns = `b.id, b.organization_id, b.received_date, b.status, b.created_at, b.updated_at`

const passportColumns = `p.id, p.batch_id, b.organization_id, p.code, p.coupon_id, p.first_name,
	p.middle_name, p.last_name, p.gender, p.status, p.published_at, p.taken_at, p.created_at, p.updated_at`

const passportFrom = ` FROM passports p JOIN batches b ON b.id = p.batch_id
	WHERE p.deleted_at IS NULL AND b.deleted_at IS NULL`

func scanBatch(row scanner) (*Batch, error) {
	b := &Batch{}
	var orgID uuid.NullUUID
	var status string
	if err := row.Scan(&b.ID, &orgID, &b.ReceivedDate, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if orgID.Valid {
		b.OrganizationID = &orgID.UUID
	}
	b.Status = BatchStatus(status)
	b.ReceivedDate = b.ReceivedDate.UTC()
	return b, nil
}

func scanPassport(row scanner) (*Passport, error) {
	p := &Passport{}
	var (
		orgID                uuid.NullUUID
		middleName           sql.NullString
		gender, status       string
		publishedAt, takenAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.BatchID, &orgID, &p.Code, &p.CouponID, &p.FirstName,
		&middleName, &p.LastName, &gender, &status, &publishedAt, &takenAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		p.OrganizationID = &orgID.UUID
	}
	if middleName.Valid {
		p.MiddleName = &middleName.String
	}
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		p.PublishedAt = &t
	}
	if takenAt.Valid {
		t := takenAt.Time.UTC()
		p.TakenAt = &t
	}
	p.Gender = Gender(gender)
	p.Status = Status(status)
	return p, nil
}

// OrganizationExists reports whether a non-deleted organization has id orgID
func (s *Store) OrganizationExists(ctx context.Context, orgID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organizations WHERE id = $1 AND deleted_at IS NULL`, orgID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return n > 0, nil
}

// CreateBatch inserts a batch without an organization
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, organization_id, received_date, status, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5)
	`, b.ID, b.ReceivedDate, string(b.Status), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// AssignOrganization points batchID at orgID
func (s *Store) AssignOrganization(ctx context.Context, batchID, orgID uuid.UUID, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET organization_id = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		orgID, now, batchID)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return apperr.NotFound("organization %s does not exist", orgID)
		}
		return fmt.Errorf("failed to assign batch organization: %w", err)
	}
	return requireRow(result, "batch not found")
}

// GetBatch retrieves a batch by id
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches b WHERE b.id = $1 AND b.deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("batch not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// UpdateBatch patches the status and received date of a batch
func (s *Store) UpdateBatch(ctx context.Context, id uuid.UUID, status *BatchStatus, receivedDate *time.Time, now time.Time) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	add := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if receivedDate != nil {
		add("received_date", dateOnly(*receivedDate))
	}
	if status != nil {
		add("status", string(*status))
	}
	if len(setClauses) == 0 {
		return nil
	}
	add("updated_at", now)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE batches SET %s WHERE id = $%d AND deleted_at IS NULL",
		strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return requireRow(result, "batch not found")
}

// SoftDeleteBatch marks a batch and its passports deleted
func (s *Store) SoftDeleteBatch(ctx context.Context, id uuid.UUID, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE passports SET deleted_at = $1 WHERE batch_id = $2 AND deleted_at IS NULL`, now, id); err != nil {
		return fmt.Errorf("failed to delete batch passports: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return requireRow(result, "batch not found")
}

// SoftDeleteOrganization marks every batch and passport of orgID deleted
func (s *Store) SoftDeleteOrganization(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE passports SET deleted_at = $1
		WHERE deleted_at IS NULL
		  AND batch_id IN (SELECT id FROM batches WHERE organization_id = $2)
	`, now, orgID); err != nil {
		return fmt.Errorf("failed to delete organization passports: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE batches SET deleted_at = $1 WHERE organization_id = $2 AND deleted_at IS NULL`, now, orgID); err != nil {
		return fmt.Errorf("failed to delete organization batches: %w", err)
	}
	return nil
}

// CreatePassport inserts a passport
func (s *Store) CreatePassport(ctx context.Context, p *Passport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passports (id, batch_id, code, coupon_id, first_name, middle_name, last_name,
			gender, status, published_at, taken_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.BatchID, p.Code, p.CouponID, p.FirstName, p.MiddleName, p.LastName,
		string(p.Gender), string(p.Status), p.PublishedAt, p.TakenAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translatePassportError(err, "failed to create passport")
	}
	return nil
}

// GetPassport retrieves a passport with its batch's organization
func (s *Store) GetPassport(ctx context.Context, id uuid.UUID) (*Passport, error) {
	p, err := scanPassport(s.db.QueryRowContext(ctx,
		`SELECT `+passportColumns+passportFrom+` AND p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("passport not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passport: %w", err)
	}
	return p, nil
}

// UpdatePassport patches the fields present in req. Moving to published stamps
// published_at unless it is already set.
func (s *Store) UpdatePassport(ctx context.Context, id uuid.UUID, req UpdatePassportRequest, now time.Time) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	add := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if req.BatchID != nil {
		add("batch_id", *req.BatchID)
	}
	if req.Code != nil {
		add("code", *req.Code)
	}
	if req.CouponID != nil {
		add("coupon_id", *req.CouponID)
	}
	if req.FirstName != nil {
		add("first_name", *req.FirstName)
	}
	if req.MiddleName != nil {
		add("middle_name", *req.MiddleName)
	}
	if req.LastName != nil {
		add("last_name", *req.LastName)
	}
	if req.Gender != nil {
		add("gender", string(*req.Gender))
	}
	if req.TakenAt != nil {
		add("taken_at", *req.TakenAt)
	}
	if req.Status != nil {
		add("status", string(*req.Status))
		if *req.Status == StatusPublished {
			setClauses = append(setClauses, fmt.Sprintf("published_at = COALESCE(published_at, $%d)", argPos))
			args = append(args, now)
			argPos++
		}
	}
	if len(setClauses) == 0 {
		return nil
	}
	add("updated_at", now)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE passports SET %s WHERE id = $%d AND deleted_at IS NULL",
		strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translatePassportError(err, "failed to update passport")
	}
	return requireRow(result, "passport not found")
}

// SoftDeletePassport marks a passport deleted
func (s *Store) SoftDeletePassport(ctx context.Context, id uuid.UUID, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE passports SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete passport: %w", err)
	}
	return requireRow(result, "passport not found")
}

// BatchStatusCounts returns the number of live passports in batchID and how
// many of them are published
func (s *Store) BatchStatusCounts(ctx context.Context, batchID uuid.UUID) (total, published int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0)
		FROM passports WHERE batch_id = $2 AND deleted_at IS NULL
	`, string(StatusPublished), batchID).Scan(&total, &published)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count batch passports: %w", err)
	}
	return total, published, nil
}

// PublishBatchPassports marks the passports of batchID in scope as published
// and returns how many were in scope. With onlyCompleted the scope is the
// completed passports, otherwise every live passport of the batch.
// published_at is stamped only where it is null.
func (s *Store) PublishBatchPassports(ctx context.Context, batchID uuid.UUID, onlyCompleted bool, now time.Time) (int, error) {
	query := `
		UPDATE passports
		SET status = $1, published_at = COALESCE(published_at, $2), updated_at = $2
		WHERE batch_id = $3 AND deleted_at IS NULL`
	args := []interface{}{string(StatusPublished), now, batchID}
	if onlyCompleted {
		query += ` AND status = $4`
		args = append(args, string(StatusCompleted))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish batch passports: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// SetBatchStatus writes the status of a batch
func (s *Store) SetBatchStatus(ctx context.Context, id uuid.UUID, status BatchStatus, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		string(status), now, id)
	if err != nil {
		return fmt.Errorf("failed to set batch status: %w", err)
	}
	return requireRow(result, "batch not found")
}

// exact-match filters accepted by the searches, by query key
var (
	batchFilters = map[string]string{
		"status":       "b.status",
		"organization": "b.organization_id",
	}
	passportFilters = map[string]string{
		"status":       "p.status",
		"gender":       "p.gender",
		"code":         "p.code",
		"coupon_id":    "p.coupon_id",
		"batch":        "p.batch_id",
		"organization": "b.organization_id",
	}
	uuidColumns = map[string]bool{
		"b.organization_id": true,
		"p.batch_id":        true,
	}
)

// SearchBatches returns a page of batches and the total match count
func (s *Store) SearchBatches(ctx context.Context, opts ListOptions) ([]*Batch, int, error) {
	w := &where{}
	w.and("b.deleted_at IS NULL")
	if opts.Search != "" {
		terms := []string{"LOWER(b.status) LIKE " + w.arg(likePattern(opts.Search)) + likeEscape}
		if day, ok := parseISODate(opts.Search); ok {
			terms = append(terms, "DATE(b.received_date) = "+w.arg(day))
		}
		w.or(terms...)
	}
	if err := w.filters(batchFilters, opts.Filters); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches b`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := `SELECT ` + batchColumns + ` FROM batches b` + w.sql() +
		` ORDER BY b.received_date DESC, b.created_at DESC` + w.page(opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search batches: %w", err)
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, total, rows.Err()
}

// SearchPassports returns a page of passports and the total match count
func (s *Store) SearchPassports(ctx context.Context, opts ListOptions) ([]*Passport, int, error) {
	w := &where{}
	w.and("p.deleted_at IS NULL", "b.deleted_at IS NULL")
	if opts.Search != "" {
		like := w.arg(likePattern(opts.Search))
		terms := []string{}
		for _, col := range []string{"p.code", "p.coupon_id", "p.first_name", "p.middle_name", "p.last_name", "p.gender", "p.status"} {
			terms = append(terms, "LOWER("+col+") LIKE "+like+likeEscape)
		}
		if day, ok := parseISODate(opts.Search); ok {
			d := w.arg(day)
			terms = append(terms, "DATE(p.published_at) = "+d, "DATE(b.received_date) = "+d)
		}
		w.or(terms...)
	}
	if err := w.filters(passportFilters, opts.Filters); err != nil {
		return nil, 0, err
	}

	from := ` FROM passports p JOIN batches b ON b.id = p.batch_id`
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count passports: %w", err)
	}

	query := `SELECT ` + passportColumns + from + w.sql() +
		` ORDER BY p.created_at DESC, p.code` + w.page(opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search passports: %w", err)
	}
	defer rows.Close()

	passports := []*Passport{}
	for rows.Next() {
		p, err := scanPassport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan passport: %w", err)
		}
		passports = append(passports, p)
	}
	return passports, total, rows.Err()
}

// where accumulates AND-combined conditions with positional arguments
type where struct {
	clauses []string
	args    []interface{}
}

// arg binds value and returns its placeholder
func (w *where) arg(value interface{}) string {
	w.args = append(w.args, value)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) and(clauses ...string) {
	w.clauses = append(w.clauses, clauses...)
}

func (w *where) or(terms ...string) {
	w.clauses = append(w.clauses, "("+strings.Join(terms, " OR ")+")")
}

// filters adds an equality per filter key, in key order so placeholders are
// numbered deterministically
func (w *where) filters(columns map[string]string, filters map[string]string) error {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, ok := columns[key]
		if !ok {
			return apperr.Validation("unknown filter %q", key)
		}
		var value interface{} = filters[key]
		if uuidColumns[column] {
			id, err := uuid.Parse(filters[key])
			if err != nil {
				return apperr.Validation("invalid %s: %s", key, filters[key])
			}
			value = id
		}
		w.and(column + " = " + w.arg(value))
	}
	return nil
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// likeEscape follows every LIKE built from likePattern
const likeEscape = ` ESCAPE '\'`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern is a case-insensitive contains pattern; wildcards in term match literally
func likePattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}

// parseISODate accepts YYYY-MM-DD, an RFC 3339 timestamp, or a timestamp without
// offset (read as UTC) and returns the day
func parseISODate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.Format(time.DateOnly), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format(time.DateOnly), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.Format(time.DateOnly), true
	}
	return "", false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func translatePassportError(err error, msg string) error {
	switch {
	case postgres.IsUniqueViolation(err):
		return apperr.Wrap(apperr.KindConflict, err, "a passport with this code or coupon id already exists")
	case postgres.IsForeignKeyViolation(err):
		return apperr.Wrap(apperr.KindNotFound, err, "batch not found")
	}
	return fmt.Errorf("%s: %w", msg, err)
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
