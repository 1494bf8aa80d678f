package audit

import (
	"context"

	"github.com/platinummonkey/passportd/pkg/observability"
)

// SlogLogger writes audit events to the structured application log
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger backed by logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: observability.OrDefault(logger).WithField("component", "audit")}
}

// Log writes event as a single log line
func (l *SlogLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_id":   event.ID.String(),
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != nil {
		fields["user_id"] = event.UserID.String()
	}
	if event.OrganizationID != nil {
		fields["organization_id"] = event.OrganizationID.String()
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}
