package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/passportd/pkg/storage"
)

// DBLogger writes audit events to the audit_events table
type DBLogger struct {
	db storage.DBTX
}

// NewDBLogger creates a new database-based audit logger. The table is created by
// the schema migrations.
func NewDBLogger(db storage.DBTX) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata := event.Metadata
	if event.ErrorMessage != "" {
		metadata = make(map[string]interface{}, len(event.Metadata)+1)
		for k, v := range event.Metadata {
			metadata[k] = v
		}
		metadata["error"] = event.ErrorMessage
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, occurred_at, event_type, status,
			user_id, organization_id,
			resource_type, resource_id, request_id,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		event.UserID, event.OrganizationID,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}
