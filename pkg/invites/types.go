package invites

import (
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/audit"
)

// Invitation is a pending grant of membership in an organization. It turns into
// a membership when its user activates or accepts.
type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Email          string     `json:"email"`
	InvitedBy      *uuid.UUID `json:"invited_by,omitempty"`
	IsAdmin        bool       `json:"is_admin"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Pending reports whether the invitation can still be used at now
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// OwningOrganization returns the organization the invitation grants access to
func (i *Invitation) OwningOrganization() (uuid.UUID, bool) {
	return i.OrganizationID, i.OrganizationID != uuid.Nil
}

func (i *Invitation) AuditResource() audit.Resource {
	return audit.Resource{Type: audit.ResourceTypeInvitation, ID: i.ID.String(), OrganizationID: i.OrganizationID}
}

// MessageKind distinguishes the messages sent by the invitation flow
type MessageKind string

const (
	MessageActivation   MessageKind = "activation"
	MessageNotification MessageKind = "notification"
	MessageReminder     MessageKind = "reminder"
)

// Message is an outbound invitation message
type Message struct {
	Kind           MessageKind `json:"kind"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	Subject        string      `json:"subject"`
	Body           string      `json:"body"`
	Link           string      `json:"link"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	InvitationID   uuid.UUID   `json:"invitation_id"`
}
