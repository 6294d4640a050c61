// Package outbox relays rows written alongside workflow events to Kafka.
// Rows are claimed with FOR UPDATE SKIP LOCKED so several replicas can relay
// concurrently without publishing a row twice in the normal case.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"onboarding/internal/platform/metrics"
	txcontext "onboarding/pkg/platform/tx"
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID          int64
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type Store interface {
	ClaimUnpublished(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ClaimUnpublished locks a batch of rows for the caller's transaction.
func (s *PostgresStore) ClaimUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET published_at = $2 WHERE id = ANY($1)`, pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Relay moves outbox rows to a topic keyed by workflow id, preserving
// per-workflow order within a partition.
type Relay struct {
	store     Store
	publisher Publisher
	tx        txcontext.Runner
	topic     string
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(store Store, publisher Publisher, tx txcontext.Runner, topic string, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		tx:        tx,
		topic:     topic,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce publishes one batch. A publish failure stops the batch; rows
// published before it are still marked so they are not sent again.
func (r *Relay) RelayOnce(ctx context.Context, now time.Time) (int, error) {
	var published int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.ClaimUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		r.metrics.SetOutboxBatch(len(entries))

		ids := make([]int64, 0, len(entries))
		var publishErr error
		for _, e := range entries {
			headers := map[string]string{
				"event_type": e.EventType,
				"outbox_id":  fmt.Sprintf("%d", e.ID),
			}
			if err := r.publisher.Publish(ctx, r.topic, []byte(e.AggregateID.String()), e.Payload, headers); err != nil {
				r.metrics.IncrementOutboxFailure()
				publishErr = err
				break
			}
			ids = append(ids, e.ID)
		}
		if err := r.store.MarkPublished(ctx, ids, now.UTC()); err != nil {
			return err
		}
		published = len(ids)
		if publishErr != nil {
			r.logger.WarnContext(ctx, "outbox relay interrupted",
				"published", published,
				"remaining", len(entries)-published,
				"error", publishErr,
			)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("relay outbox: %w", err)
	}
	r.metrics.AddOutboxRelayed(published)
	return published, nil
}
