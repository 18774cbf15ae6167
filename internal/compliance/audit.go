// Package compliance keeps the audit trail of patient intake activity.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-intake/internal/intake"
)

// AuditEventType represents the type of audited intake event.
type AuditEventType string

const (
	// EventRecordOpened is logged when an existing patient is loaded for editing.
	EventRecordOpened AuditEventType = "intake.record_opened"
	// EventSubmitted is logged when the backend accepts a registration or update.
	EventSubmitted AuditEventType = "intake.submitted"
	// EventRejected is logged when the backend rejects individual fields.
	EventRejected AuditEventType = "intake.rejected"
	// EventFailed is logged when a submission fails for any other reason.
	EventFailed AuditEventType = "intake.failed"
)

// AuditEvent represents an immutable audit record. It never stores field
// values, only identifiers and field names.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	SessionID string          `json:"session_id"`
	RecordID  string          `json:"record_id,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For rejected submissions
	RejectedFields []string `json:"rejected_fields,omitempty"`

	// For every backend call
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// AuditService handles intake audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO intake_audit_events (
			id, event_type, session_id, record_id, mode, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.SessionID,
		nullString(event.RecordID),
		nullString(event.Mode),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogRecordOpened logs that a patient record was loaded into a wizard.
func (s *AuditService) LogRecordOpened(ctx context.Context, sessionID, recordID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventRecordOpened,
		SessionID: sessionID,
		RecordID:  recordID,
		Mode:      string(intake.ModeUpdate),
	})
}

// RecordSubmission logs the outcome of a backend call. Busy and invalid
// attempts never reach the backend and are not recorded.
func (s *AuditService) RecordSubmission(ctx context.Context, evt intake.SubmissionEvent) error {
	var eventType AuditEventType
	switch evt.Outcome {
	case intake.OutcomeSubmitted:
		eventType = EventSubmitted
	case intake.OutcomeRejected:
		eventType = EventRejected
	case intake.OutcomeFailed:
		eventType = EventFailed
	default:
		return nil
	}

	details := AuditDetails{
		RejectedFields: evt.RejectedKeys,
		DurationMs:     evt.Duration.Milliseconds(),
	}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType: eventType,
		SessionID: evt.SessionID,
		RecordID:  evt.RecordID,
		Mode:      string(evt.Mode),
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, session_id, record_id, mode, details, created_at
		FROM intake_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.RecordID != "" {
		query += fmt.Sprintf(" AND record_id = $%d", argIdx)
		args = append(args, filter.RecordID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var recordID, mode sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.SessionID, &recordID, &mode, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.RecordID = recordID.String
		e.Mode = mode.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	SessionID string
	RecordID  string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
