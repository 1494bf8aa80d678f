package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Organization events
	EventTypeOrgCreate     EventType = "org.create"
	EventTypeOrgUpdate     EventType = "org.update"
	EventTypeOrgDelete     EventType = "org.delete"
	EventTypeOrgActivate   EventType = "org.activate"
	EventTypeOrgDeactivate EventType = "org.deactivate"

	// Membership events
	EventTypeMemberAdd    EventType = "org.member_add"
	EventTypeMemberRemove EventType = "org.member_remove"

	// Batch events
	EventTypeBatchCreate  EventType = "batch.create"
	EventTypeBatchUpdate  EventType = "batch.update"
	EventTypeBatchDelete  EventType = "batch.delete"
	EventTypeBatchPublish EventType = "batch.publish"

	// Passport events
	EventTypePassportCreate  EventType = "passport.create"
	EventTypePassportUpdate  EventType = "passport.update"
	EventTypePassportDelete  EventType = "passport.delete"
	EventTypePassportPublish EventType = "passport.publish"

	// Account events
	EventTypeTokenCreate        EventType = "auth.token_create"
	EventTypeInvitationSend     EventType = "invitation.send"
	EventTypeInvitationActivate EventType = "invitation.activate"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an audited event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeMembership   ResourceType = "membership"
	ResourceTypeBatch        ResourceType = "batch"
	ResourceTypePassport     ResourceType = "passport"
	ResourceTypeInvitation   ResourceType = "invitation"
	ResourceTypeToken        ResourceType = "token"
	ResourceTypeUser         ResourceType = "user"
)

// AuditEvent is one recorded action
type AuditEvent struct {
	ID        uuid.UUID   `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor and tenant
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`

	// Target
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Resource identifies the target of an audited action
type Resource struct {
	Type           ResourceType
	ID             string
	OrganizationID uuid.UUID
}
