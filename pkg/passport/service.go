package passport

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/storage"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
)

// Service runs the batch and passport lifecycle
type Service struct {
	db      *sql.DB
	store   *Store
	reader  *Store
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates a lifecycle service. metrics and logger may be nil.
func NewService(db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) *Service {
	store := NewStore(db)
	return &Service{
		db:      db,
		store:   store,
		reader:  store,
		metrics: metrics,
		logger:  observability.OrDefault(logger).WithField("component", "passport"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithReplica sends the search and listing queries to reader, normally a
// replica pool. Lookups and writes stay on the primary.
func (s *Service) WithReplica(reader storage.DBTX) *Service {
	s.reader = NewStore(reader)
	return s
}

// CascadeOrganizationDelete soft-deletes the batches and passports of a deleted
// organization. It has the shape of orgs.DeleteHook.
func CascadeOrganizationDelete(ctx context.Context, tx storage.DBTX, orgID uuid.UUID, now time.Time) error {
	return NewStore(tx).SoftDeleteOrganization(ctx, orgID, now)
}

// CreateBatch creates a batch and assigns it to its organization in one
// transaction. A missing organization rolls the batch back.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	if req.OrganizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	if req.Status == "" {
		req.Status = BatchPending
	}
	if !req.Status.Valid() {
		return nil, apperr.Validation("invalid batch status %q", req.Status)
	}

	now := s.now()
	received := now
	if req.ReceivedDate != nil {
		received = *req.ReceivedDate
	}
	batch := &Batch{
		ID:           uuid.New(),
		ReceivedDate: dateOnly(received),
		Status:       req.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		if err := store.CreateBatch(ctx, batch); err != nil {
			return err
		}
		return assignOrganization(ctx, store, batch.ID, req.OrganizationID, now)
	})
	if err != nil {
		return nil, err
	}

	orgID := req.OrganizationID
	batch.OrganizationID = &orgID
	return batch, nil
}

// UpdateBatch patches a batch. Reassignment to a missing organization rolls
// back every change.
func (s *Service) UpdateBatch(ctx context.Context, id uuid.UUID, req UpdateBatchRequest) (*Batch, error) {
	if req.Status != nil && !req.Status.Valid() {
		return nil, apperr.Validation("invalid batch status %q", *req.Status)
	}

	var batch *Batch
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		now := s.now()
		if req.OrganizationID != nil {
			if err := assignOrganization(ctx, store, id, *req.OrganizationID, now); err != nil {
				return err
			}
		}
		if err := store.UpdateBatch(ctx, id, req.Status, req.ReceivedDate, now); err != nil {
			return err
		}
		var err error
		batch, err = store.GetBatch(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func assignOrganization(ctx context.Context, store *Store, batchID, orgID uuid.UUID, now time.Time) error {
	exists, err := store.OrganizationExists(ctx, orgID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("organization %s does not exist", orgID)
	}
	return store.AssignOrganization(ctx, batchID, orgID, now)
}

// PatchBatchStatus sets only the batch status
func (s *Service) PatchBatchStatus(ctx context.Context, id uuid.UUID, status BatchStatus) (*Batch, error) {
	return s.UpdateBatch(ctx, id, UpdateBatchRequest{Status: &status})
}

// GetBatch retrieves a batch
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.store.GetBatch(ctx, id)
}

// DeleteBatch soft-deletes a batch and its passports. Published batches must
// be archived instead.
func (s *Service) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		batch, err := store.GetBatch(ctx, id)
		if err != nil {
			return err
		}
		if batch.Status == BatchPublished {
			return apperr.DomainState("a published batch cannot be deleted, it must be archived instead")
		}
		return store.SoftDeleteBatch(ctx, id, s.now())
	})
}

// SearchBatches searches batches by status text or received date
func (s *Service) SearchBatches(ctx context.Context, opts ListOptions) ([]*Batch, int, error) {
	return s.reader.SearchBatches(ctx, opts)
}

// BatchPassports lists the passports of a batch. An empty batch is an empty
// list, not an error.
func (s *Service) BatchPassports(ctx context.Context, batchID uuid.UUID, opts ListOptions) ([]*Passport, int, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return nil, 0, err
	}
	filters := make(map[string]string, len(opts.Filters)+1)
	for k, v := range opts.Filters {
		filters[k] = v
	}
	filters["batch"] = batchID.String()
	opts.Filters = filters
	return s.reader.SearchPassports(ctx, opts)
}

// PublishBatch publishes the passports of a batch in scope and recomputes the
// batch status from all of its passports, in one transaction.
//
// With all set the scope is every passport of the batch, otherwise only
// completed passports. A batch with no passports is an error. An empty scope
// is reported as Published=false; the batch status is recomputed either way.
func (s *Service) PublishBatch(ctx context.Context, batchID uuid.UUID, all bool) (*PublishResult, error) {
	scope := "completed"
	if all {
		scope = "all"
	}

	ctx, span := observability.Tracer().Start(ctx, "passport.PublishBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID.String()),
		attribute.String("publish.scope", scope),
	)

	result := &PublishResult{}
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := NewStore(tx)
		batch, err := store.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		result.BatchStatus = batch.Status

		total, _, err := store.BatchStatusCounts(ctx, batchID)
		if err != nil {
			return err
		}
		if total == 0 {
			return apperr.DomainState("no passports in batch")
		}

		now := s.now()
		count, err := store.PublishBatchPassports(ctx, batchID, !all, now)
		if err != nil {
			return err
		}

		total, published, err := store.BatchStatusCounts(ctx, batchID)
		if err != nil {
			return err
		}
		rollup := BatchProcessing
		if published == total {
			rollup = BatchPublished
		}
		if err := store.SetBatchStatus(ctx, batchID, rollup, now); err != nil {
			return err
		}

		result.Published = count > 0
		result.Count = count
		result.BatchStatus = rollup
		return nil
	})

	outcome := "published"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Published:
		outcome = "empty"
	}
	if s.metrics != nil {
		s.metrics.BatchPublishTotal.WithLabelValues(scope, outcome).Inc()
		s.metrics.PassportsPublishedTotal.Add(float64(result.Count))
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("publish.count", result.Count))
	observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithFields(map[string]interface{}{
		"batch_id":     batchID.String(),
		"scope":        scope,
		"count":        result.Count,
		"batch_status": string(result.BatchStatus),
	}).Info("batch publish")
	return result, nil
}

// CreatePassport creates a passport in an existing batch
func (s *Service) CreatePassport(ctx context.Context, req CreatePassportRequest) (*Passport, error) {
	if req.Status == "" {
		req.Status = StatusDraft
	}
	if err := validatePassport(req); err != nil {
		return nil, err
	}

	batch, err := s.store.GetBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &Passport{
		ID:             uuid.New(),
		BatchID:        req.BatchID,
		OrganizationID: batch.OrganizationID,
		Code:           strings.TrimSpace(req.Code),
		CouponID:       strings.TrimSpace(req.CouponID),
		FirstName:      req.FirstName,
		MiddleName:     req.MiddleName,
		LastName:       req.LastName,
		Gender:         req.Gender,
		Status:         req.Status,
		TakenAt:        req.TakenAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Status == StatusPublished {
		p.PublishedAt = &now
	}

	if err := s.store.CreatePassport(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func validatePassport(req CreatePassportRequest) error {
	switch {
	case strings.TrimSpace(req.Code) == "":
		return apperr.Validation("code is required")
	case strings.TrimSpace(req.CouponID) == "":
		return apperr.Validation("coupon_id is required")
	case req.FirstName == "" || req.LastName == "":
		return apperr.Validation("first_name and last_name are required")
	case !req.Gender.Valid():
		return apperr.Validation("invalid gender %q", req.Gender)
	case !req.Status.Valid():
		return apperr.Validation("invalid passport status %q", req.Status)
	}
	return nil
}

// UpdatePassport patches the fields present in req and returns the result
func (s *Service) UpdatePassport(ctx context.Context, id uuid.UUID, req UpdatePassportRequest) (*Passport, error) {
	if req.Gender != nil && !req.Gender.Valid() {
		return nil, apperr.Validation("invalid gender %q", *req.Gender)
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, apperr.Validation("invalid passport status %q", *req.Status)
	}
	if req.BatchID != nil {
		if _, err := s.store.GetBatch(ctx, *req.BatchID); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdatePassport(ctx, id, req, s.now()); err != nil {
		return nil, err
	}
	return s.store.GetPassport(ctx, id)
}

// PatchPassportStatus sets only the passport status. Moving to published
// stamps published_at the first time.
func (s *Service) PatchPassportStatus(ctx context.Context, id uuid.UUID, status Status) (*Passport, error) {
	return s.UpdatePassport(ctx, id, UpdatePassportRequest{Status: &status})
}

// PublishPassport publishes one passport, keeping the original published_at
func (s *Service) PublishPassport(ctx context.Context, id uuid.UUID) (*Passport, error) {
	p, err := s.PatchPassportStatus(ctx, id, StatusPublished)
	if err == nil && s.metrics != nil {
		s.metrics.PassportsPublishedTotal.Inc()
	}
	return p, err
}

// GetPassport retrieves a passport
func (s *Service) GetPassport(ctx context.Context, id uuid.UUID) (*Passport, error) {
	return s.store.GetPassport(ctx, id)
}

// DeletePassport soft-deletes a passport
func (s *Service) DeletePassport(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDeletePassport(ctx, id, s.now())
}

// SearchPassports searches passports by text fields, published date and batch
// received date
func (s *Service) SearchPassports(ctx context.Context, opts ListOptions) ([]*Passport, int, error) {
	return s.reader.SearchPassports(ctx, opts)
}
