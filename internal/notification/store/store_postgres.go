package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"onboarding/internal/notification/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
	txcontext "onboarding/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, workflow_id, event_id, type, message, read, actionable, created_at`

func (s *PostgresStore) Save(ctx context.Context, n *models.Notification) error {
	var eventID *uuid.UUID
	if n.EventID != nil {
		u := uuid.UUID(*n.EventID)
		eventID = &u
	}
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(n.ID), uuid.UUID(n.WorkflowID), eventID, string(n.Kind), n.Message, n.Read, n.Actionable, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByWorkflow(ctx context.Context, workflowID id.WorkflowID) ([]*models.Notification, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE workflow_id = $1
		ORDER BY created_at ASC, id ASC
	`, uuid.UUID(workflowID))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1
		RETURNING `+notificationColumns,
		uuid.UUID(notificationID))
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*models.Notification, error) {
	var (
		n       models.Notification
		nid     uuid.UUID
		wfID    uuid.UUID
		eventID uuid.NullUUID
		kind    string
	)
	if err := row.Scan(&nid, &wfID, &eventID, &kind, &n.Message, &n.Read, &n.Actionable, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.ID = id.NotificationID(nid)
	n.WorkflowID = id.WorkflowID(wfID)
	n.Kind = models.Kind(kind)
	if eventID.Valid {
		e := id.EventID(eventID.UUID)
		n.EventID = &e
	}
	return &n, nil
}
