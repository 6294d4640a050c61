package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onboarding/internal/platform/postgres"
	"onboarding/internal/workflow/models"
	id "onboarding/pkg/domain"
	"onboarding/pkg/platform/sentinel"
	txcontext "onboarding/pkg/platform/tx"
)

// PostgresStore is the single source of truth for status, stage and version.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const workflowColumns = `id, applicant_id, stage, status, version, metadata, pending_wait,
	failure_reason, started_at, updated_at, terminated_at, archived_at`

func (s *PostgresStore) Create(ctx context.Context, w *models.Workflow) error {
	row, err := toRow(w)
	if err != nil {
		return err
	}
	_, err = txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`, wait_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, row.id, row.applicantID, row.stage, row.status, row.version, row.metadata, row.pendingWait,
		row.failureReason, row.startedAt, row.updatedAt, row.terminatedAt, row.archivedAt, row.waitDeadline)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	r := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, uuid.UUID(workflowID))
	w, err := scanWorkflow(r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return w, err
}

func (s *PostgresStore) Exists(ctx context.Context, workflowID id.WorkflowID) (bool, error) {
	var exists bool
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, uuid.UUID(workflowID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check workflow: %w", err)
	}
	return exists, nil
}

// UpdateIfVersion writes the row with a compare-and-swap on version.
func (s *PostgresStore) UpdateIfVersion(ctx context.Context, w *models.Workflow, expectedVersion int64) error {
	row, err := toRow(w)
	if err != nil {
		return err
	}
	exec := txcontext.Execer(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE workflows SET
			stage = $3, status = $4, version = $5, metadata = $6, pending_wait = $7,
			failure_reason = $8, updated_at = $9, terminated_at = $10, archived_at = $11,
			wait_deadline = $12
		WHERE id = $1 AND version = $2
	`, row.id, expectedVersion, row.stage, row.status, row.version, row.metadata, row.pendingWait,
		row.failureReason, row.updatedAt, row.terminatedAt, row.archivedAt, row.waitDeadline)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	exists, err := s.Exists(ctx, w.ID)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) ListExpiredWaits(ctx context.Context, now time.Time, limit int) ([]*models.Workflow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE wait_deadline IS NOT NULL
		  AND wait_deadline <= $1
		  AND status IN ('pending', 'in_progress', 'awaiting_human')
		ORDER BY wait_deadline ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired waits: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type workflowRow struct {
	id            uuid.UUID
	applicantID   uuid.UUID
	stage         int
	status        string
	version       int64
	metadata      []byte
	pendingWait   []byte
	failureReason string
	startedAt     time.Time
	updatedAt     time.Time
	terminatedAt  sql.NullTime
	archivedAt    sql.NullTime
	waitDeadline  sql.NullTime
}

func toRow(w *models.Workflow) (*workflowRow, error) {
	meta, err := models.EncodeMetadata(w.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	row := &workflowRow{
		id:            uuid.UUID(w.ID),
		applicantID:   uuid.UUID(w.ApplicantID),
		stage:         int(w.Stage),
		status:        string(w.Status),
		version:       w.Version,
		metadata:      meta,
		failureReason: w.FailureReason,
		startedAt:     w.StartedAt,
		updatedAt:     w.UpdatedAt,
	}
	if w.PendingWait != nil {
		raw, err := json.Marshal(w.PendingWait)
		if err != nil {
			return nil, fmt.Errorf("encode pending wait: %w", err)
		}
		row.pendingWait = raw
		row.waitDeadline = sql.NullTime{Time: w.PendingWait.Deadline, Valid: true}
	}
	if w.TerminatedAt != nil {
		row.terminatedAt = sql.NullTime{Time: *w.TerminatedAt, Valid: true}
	}
	if w.ArchivedAt != nil {
		row.archivedAt = sql.NullTime{Time: *w.ArchivedAt, Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(sc scanner) (*models.Workflow, error) {
	var r workflowRow
	if err := sc.Scan(&r.id, &r.applicantID, &r.stage, &r.status, &r.version, &r.metadata, &r.pendingWait,
		&r.failureReason, &r.startedAt, &r.updatedAt, &r.terminatedAt, &r.archivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	meta, err := models.DecodeMetadata(r.metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	w := &models.Workflow{
		ID:            id.WorkflowID(r.id),
		ApplicantID:   id.ApplicantID(r.applicantID),
		Stage:         models.Stage(r.stage),
		Status:        models.Status(r.status),
		Version:       r.version,
		Metadata:      meta,
		FailureReason: r.failureReason,
		StartedAt:     r.startedAt.UTC(),
		UpdatedAt:     r.updatedAt.UTC(),
	}
	if len(r.pendingWait) > 0 {
		var wait models.PendingWait
		if err := json.Unmarshal(r.pendingWait, &wait); err != nil {
			return nil, fmt.Errorf("decode pending wait: %w", err)
		}
		w.PendingWait = &wait
	}
	if r.terminatedAt.Valid {
		t := r.terminatedAt.Time.UTC()
		w.TerminatedAt = &t
	}
	if r.archivedAt.Valid {
		t := r.archivedAt.Time.UTC()
		w.ArchivedAt = &t
	}
	return w, nil
}
