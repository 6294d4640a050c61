package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"onboarding/internal/forms/models"
	"onboarding/internal/platform/postgres"
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

const formColumns = `id, workflow_id, kind, token_hash, status, expires_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, f *models.Instance) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO form_instances (`+formColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(f.ID), uuid.UUID(f.WorkflowID), string(f.Kind), f.TokenHash, string(f.Status),
		f.ExpiresAt, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByTokenHash(ctx context.Context, hash string) (*models.Instance, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+formColumns+` FROM form_instances WHERE token_hash = $1`, hash)
	f, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return f, err
}

func (s *PostgresStore) UpdateIfStatus(ctx context.Context, f *models.Instance, expected models.Status) error {
	res, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE form_instances SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, uuid.UUID(f.ID), string(expected), string(f.Status), f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM form_instances WHERE id = $1)`, uuid.UUID(f.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check form: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListOpenByWorkflow(ctx context.Context, workflowID id.WorkflowID) ([]*models.Instance, error) {
	return s.query(ctx, `
		SELECT `+formColumns+` FROM form_instances
		WHERE workflow_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`, uuid.UUID(workflowID), pq.Array(openStatuses()))
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Instance, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, `
		SELECT `+formColumns+` FROM form_instances
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, pq.Array(openStatuses()), now, limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func openStatuses() []string {
	out := make([]string, 0, len(models.OpenStatuses))
	for _, st := range models.OpenStatuses {
		out = append(out, string(st))
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(row scanner) (*models.Instance, error) {
	var (
		f      models.Instance
		formID uuid.UUID
		wfID   uuid.UUID
		kind   string
		status string
	)
	if err := row.Scan(&formID, &wfID, &kind, &f.TokenHash, &status, &f.ExpiresAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan form: %w", err)
	}
	f.ID = id.FormID(formID)
	f.WorkflowID = id.WorkflowID(wfID)
	f.Kind = models.Kind(kind)
	f.Status = models.Status(status)
	f.ExpiresAt = f.ExpiresAt.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}
