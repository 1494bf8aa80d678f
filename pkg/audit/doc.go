// Package audit records who changed what in passportd.
//
// Organization, membership, batch and passport mutations as well as authorization
// denials are recorded as AuditEvents. Handlers emit them through the logger bound
// to the request context by Middleware:
//
//	audit.LogSuccess(ctx, audit.EventTypeBatchPublish, audit.Resource{
//		Type:           audit.ResourceTypeBatch,
//		ID:             batch.ID.String(),
//		OrganizationID: batch.OrganizationID,
//	}, "batch published", map[string]interface{}{"all": all})
//
// Loggers:
//   - DBLogger writes to the audit_events table
//   - SlogLogger writes to the structured application log
//   - MultiLogger fans out to several loggers
//
// A context without a bound logger records nothing.
package audit
