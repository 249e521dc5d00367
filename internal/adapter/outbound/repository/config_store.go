package repository

import (
	"context"
	"fmt"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfigStore implements the ConfigStore interface. The queue
// configuration is a single versioned row; optimistic concurrency on the
// version column rejects lost updates.
type PostgresConfigStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConfigStore creates a new PostgreSQL config store.
func NewPostgresConfigStore(pool *pgxpool.Pool) *PostgresConfigStore {
	return &PostgresConfigStore{pool: pool}
}

var _ outbound.ConfigStore = (*PostgresConfigStore)(nil)

// Load returns the current queue configuration, seeding the defaults when
// no row exists yet.
func (s *PostgresConfigStore) Load(ctx context.Context) (*entity.QueueConfig, error) {
	query := `
		SELECT batch_size, max_concurrent_workers, queue_enabled, version, updated_by, updated_at
		FROM receiptqueue.queue_config
		WHERE id = 1`

	var (
		batchSize, maxWorkers, version int
		queueEnabled                   bool
		updatedBy                      string
		updatedAt                      time.Time
	)

	err := s.pool.QueryRow(ctx, query).Scan(
		&batchSize, &maxWorkers, &queueEnabled, &version, &updatedBy, &updatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return entity.DefaultQueueConfig(), nil
		}
		return nil, WrapError(err, "load queue config")
	}

	return entity.RestoreQueueConfig(batchSize, maxWorkers, queueEnabled, version, updatedBy, updatedAt), nil
}

// Save persists the configuration. The WHERE clause only matches when the
// stored version is older than the one being written; a stale writer gets
// ErrStaleConfig and must reload.
func (s *PostgresConfigStore) Save(ctx context.Context, config *entity.QueueConfig) error {
	if config == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO receiptqueue.queue_config (
			id, batch_size, max_concurrent_workers, queue_enabled, version, updated_by, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			batch_size = EXCLUDED.batch_size,
			max_concurrent_workers = EXCLUDED.max_concurrent_workers,
			queue_enabled = EXCLUDED.queue_enabled,
			version = EXCLUDED.version,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		WHERE receiptqueue.queue_config.version < EXCLUDED.version`

	tag, err := s.pool.Exec(ctx, query,
		config.BatchSize(),
		config.MaxConcurrentWorkers(),
		config.QueueEnabled(),
		config.Version(),
		config.UpdatedBy(),
		config.UpdatedAt(),
	)
	if err != nil {
		return WrapError(err, "save queue config")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save queue config failed: %w", outbound.ErrStaleConfig)
	}
	return nil
}
