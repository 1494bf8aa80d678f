package passport

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/passportd/pkg/audit"
)

// Status is the lifecycle state of a passport
type Status string

const (
	StatusDraft     Status = "draft"     // being created or modified
	StatusCompleted Status = "completed" // ready to be published
	StatusPublished Status = "published" // available for distribution
	StatusLost      Status = "lost"      // reported lost
	StatusTaken     Status = "taken"     // collected by the holder
)

// Valid reports whether s is a known passport status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusPublished, StatusLost, StatusTaken:
		return true
	}
	return false
}

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"    // awaiting receipt of passports
	BatchReceived   BatchStatus = "received"   // all passports received
	BatchProcessing BatchStatus = "processing" // data entry and sorting
	BatchCompleted  BatchStatus = "completed"  // ready for distribution
	BatchPublished  BatchStatus = "published"  // every passport published
)

// Valid reports whether s is a known batch status
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchReceived, BatchProcessing, BatchCompleted, BatchPublished:
		return true
	}
	return false
}

// Gender of a passport holder
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is a known gender
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// Batch is a container of passports sharing a receipt and processing lifecycle
type Batch struct {
	ID uuid.UUID `json:"id"`
	// OrganizationID is nil only while a batch is being assigned
	OrganizationID *uuid.UUID  `json:"organization_id"`
	ReceivedDate   time.Time   `json:"received_date"`
	Status         BatchStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// OwningOrganization implements rbac.HasOrganization
func (b *Batch) OwningOrganization() (uuid.UUID, bool) {
	if b == nil || b.OrganizationID == nil {
		return uuid.Nil, false
	}
	return *b.OrganizationID, true
}

// AuditResource implements rbac.Auditable
func (b *Batch) AuditResource() audit.Resource {
	r := audit.Resource{Type: audit.ResourceTypeBatch, ID: b.ID.String()}
	if b.OrganizationID != nil {
		r.OrganizationID = *b.OrganizationID
	}
	return r
}

// Passport is a single document within a batch
type Passport struct {
	ID      uuid.UUID `json:"id"`
	BatchID uuid.UUID `json:"batch_id"`
	// OrganizationID is read through the batch
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Code           string     `json:"code"`
	CouponID       string     `json:"coupon_id"`
	FirstName      string     `json:"first_name"`
	MiddleName     *string    `json:"middle_name,omitempty"`
	LastName       string     `json:"last_name"`
	Gender         Gender     `json:"gender"`
	Status         Status     `json:"status"`
	// PublishedAt records the first transition to published and is never reset
	PublishedAt *time.Time `json:"published_at,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OwningOrganization implements rbac.HasOrganization through the batch
func (p *Passport) OwningOrganization() (uuid.UUID, bool) {
	if p == nil || p.OrganizationID == nil {
		return uuid.Nil, false
	}
	return *p.OrganizationID, true
}

// AuditResource implements rbac.Auditable
func (p *Passport) AuditResource() audit.Resource {
	r := audit.Resource{Type: audit.ResourceTypePassport, ID: p.ID.String()}
	if p.OrganizationID != nil {
		r.OrganizationID = *p.OrganizationID
	}
	return r
}

// CreateBatchRequest holds the fields for a new batch
type CreateBatchRequest struct {
	OrganizationID uuid.UUID   `json:"organization"`
	Status         BatchStatus `json:"status,omitempty"`
	ReceivedDate   *time.Time  `json:"received_date,omitempty"`
}

// UpdateBatchRequest patches a batch; nil fields are left unchanged
type UpdateBatchRequest struct {
	OrganizationID *uuid.UUID   `json:"organization,omitempty"`
	Status         *BatchStatus `json:"status,omitempty"`
	ReceivedDate   *time.Time   `json:"received_date,omitempty"`
}

// CreatePassportRequest holds the fields for a new passport
type CreatePassportRequest struct {
	BatchID    uuid.UUID  `json:"batch"`
	Code       string     `json:"code"`
	CouponID   string     `json:"coupon_id"`
	FirstName  string     `json:"first_name"`
	MiddleName *string    `json:"middle_name,omitempty"`
	LastName   string     `json:"last_name"`
	Gender     Gender     `json:"gender"`
	Status     Status     `json:"status,omitempty"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
}

// UpdatePassportRequest patches a passport; nil fields are left unchanged
type UpdatePassportRequest struct {
	BatchID    *uuid.UUID `json:"batch,omitempty"`
	Code       *string    `json:"code,omitempty"`
	CouponID   *string    `json:"coupon_id,omitempty"`
	FirstName  *string    `json:"first_name,omitempty"`
	MiddleName *string    `json:"middle_name,omitempty"`
	LastName   *string    `json:"last_name,omitempty"`
	Gender     *Gender    `json:"gender,omitempty"`
	Status     *Status    `json:"status,omitempty"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
}

// ListOptions selects a page of a search
type ListOptions struct {
	// Search matches case-insensitively across the text fields, and by date
	// when it parses as an ISO date
	Search string
	// Filters are exact matches, AND-combined with the search
	Filters map[string]string
	Limit   int
	Offset  int
}

// PublishResult reports the outcome of a batch publish
type PublishResult struct {
	// Published is false when no passport was in scope
	Published   bool        `json:"published"`
	Count       int         `json:"count"`
	BatchStatus BatchStatus `json:"batch_status"`
}
