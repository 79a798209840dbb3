package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hondana-dev/hondana/pkg/uuid"
)

// Service provides audit logging capabilities
// All operations are append-only; no updates or deletes are supported
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Log creates a new audit event (append-only, immutable)
// This is the ONLY way to create audit events - no updates, no deletes
func (s *Service) Log(ctx context.Context, event *Event) error {
	details := event.Details
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_event (id, actor_id, actor_type, action, entity_type, entity_id, details, outcome, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ActorID, string(event.ActorType), event.Action,
		event.EntityType, event.EntityID, string(details), string(event.Outcome),
		event.TraceID, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// LogWithDetails is a helper for the common case with structured details
func (s *Service) LogWithDetails(
	ctx context.Context,
	actorID string,
	actorType ActorType,
	action string,
	entityType *string,
	entityID *string,
	details *EventDetails,
	outcome Outcome,
) error {
	var detailsJSON json.RawMessage
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return err
		}
	}

	return s.Log(ctx, &Event{
		ID:         uuid.NewV7(),
		ActorID:    actorID,
		ActorType:  actorType,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    detailsJSON,
		Outcome:    outcome,
		CreatedAt:  time.Now().UTC(),
	})
}

// GetByID retrieves a single audit event by ID
func (s *Service) GetByID(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, actor_id, actor_type, action, entity_type, entity_id, details, outcome, trace_id, created_at
		 FROM audit_event WHERE id = ?`, id)
	return scanEvent(row)
}

// List retrieves audit events with pagination, newest first.
// Returns the page plus the total event count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_event`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, actor_type, action, entity_type, entity_id, details, outcome, trace_id, created_at
		 FROM audit_event ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// ListByActor retrieves audit events for a single actor, newest first.
func (s *Service) ListByActor(ctx context.Context, actorID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, actor_type, action, entity_type, entity_id, details, outcome, trace_id, created_at
		 FROM audit_event WHERE actor_id = ? ORDER BY created_at DESC LIMIT ?`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list by actor: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var actorType, outcome, details string
	err := row.Scan(&e.ID, &e.ActorID, &actorType, &e.Action,
		&e.EntityType, &e.EntityID, &details, &outcome, &e.TraceID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: scan event: %w", err)
	}
	e.ActorType = ActorType(actorType)
	e.Outcome = Outcome(outcome)
	e.Details = json.RawMessage(details)
	return &e, nil
}
