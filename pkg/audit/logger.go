package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/passportd/pkg/contextkeys"
	"github.com/platinummonkey/passportd/pkg/observability"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// noOpLogger drops every event
type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

// NoOp returns a logger that records nothing
func NoOp() Logger {
	return noOpLogger{}
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return noOpLogger{}
}

// buildBaseEvent fills the fields every event carries from the request context
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus, resource Resource) *AuditEvent {
	event := &AuditEvent{
		ID:           uuid.New(),
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       status,
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		RequestID:    observability.GetRequestID(ctx),
		Metadata:     make(map[string]interface{}),
	}

	if userID, err := uuid.Parse(observability.GetUserID(ctx)); err == nil {
		event.UserID = &userID
	}
	if resource.OrganizationID != uuid.Nil {
		orgID := resource.OrganizationID
		event.OrganizationID = &orgID
	}

	return event
}

// LogSuccess logs a successful event through the context-bound logger
func LogSuccess(ctx context.Context, eventType EventType, resource Resource, message string, metadata map[string]interface{}) error {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess, resource)
	event.Message = message
	if metadata != nil {
		event.Metadata = metadata
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure logs a failed event with an error
func LogFailure(ctx context.Context, eventType EventType, resource Resource, message string, err error) error {
	event := buildBaseEvent(ctx, eventType, EventStatusFailure, resource)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogDenied logs an access denied event
func LogDenied(ctx context.Context, resource Resource, reason string) error {
	event := buildBaseEvent(ctx, EventTypeAccessDenied, EventStatusDenied, resource)
	event.Message = fmt.Sprintf("Access denied: %s", reason)
	return FromContext(ctx).Log(ctx, event)
}
