package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onboarding/internal/eventlog/models"
	id "onboarding/pkg/domain"
	txcontext "onboarding/pkg/platform/tx"
)

// PostgresStore appends events and their outbox rows in one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *models.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Execer(ctx, s.db)

		// Serializes appends per workflow for the rest of the transaction.
		if _, err := exec.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, uuid.UUID(e.WorkflowID).String()); err != nil {
			return fmt.Errorf("lock workflow events: %w", err)
		}

		var lastSeq int64
		var lastTS time.Time
		err := exec.QueryRowContext(ctx, `
			SELECT sequence, occurred_at FROM workflow_events
			WHERE workflow_id = $1
			ORDER BY sequence DESC
			LIMIT 1
		`, uuid.UUID(e.WorkflowID)).Scan(&lastSeq, &lastTS)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read last event: %w", err)
		default:
			e.Timestamp = clamp(e.Timestamp, lastTS)
		}
		e.Sequence = lastSeq + 1

		if _, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_events (id, workflow_id, sequence, event_type, payload, actor_type, actor_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.UUID(e.ID), uuid.UUID(e.WorkflowID), e.Sequence, string(e.Type), payload,
			string(e.ActorType), e.ActorID, e.Timestamp); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		envelope, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal outbox envelope: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO outbox (aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, uuid.UUID(e.WorkflowID), string(e.Type), envelope, e.Timestamp); err != nil {
			return fmt.Errorf("insert outbox row: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListByWorkflow(ctx context.Context, workflowID id.WorkflowID, afterSequence int64, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, workflow_id, sequence, event_type, payload, actor_type, actor_id, occurred_at
		FROM workflow_events
		WHERE workflow_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, uuid.UUID(workflowID), afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			e          models.Event
			eventID    uuid.UUID
			wfID       uuid.UUID
			eventType  string
			actorType  string
			rawPayload []byte
		)
		if err := rows.Scan(&eventID, &wfID, &e.Sequence, &eventType, &rawPayload, &actorType, &e.ActorID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ID = id.EventID(eventID)
		e.WorkflowID = id.WorkflowID(wfID)
		e.Type = models.EventType(eventType)
		e.ActorType = models.ActorType(actorType)
		if err := json.Unmarshal(rawPayload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
