package repository

import (
	"context"
	"fmt"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workerColumns = `worker_id, status, last_heartbeat, tasks_processed,
		error_count, rate_limit_count, total_processing_time_ms, registered_at`

// PostgresWorkerRegistry implements the WorkerRegistry interface.
type PostgresWorkerRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresWorkerRegistry creates a new PostgreSQL worker registry.
func NewPostgresWorkerRegistry(pool *pgxpool.Pool) *PostgresWorkerRegistry {
	return &PostgresWorkerRegistry{pool: pool}
}

var _ outbound.WorkerRegistry = (*PostgresWorkerRegistry)(nil)

// Register upserts a worker row, resetting its counters. A worker that
// restarts under the same ID starts from a clean slate.
func (r *PostgresWorkerRegistry) Register(ctx context.Context, worker *entity.Worker) error {
	if worker == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO receiptqueue.workers (` + workerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (worker_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			tasks_processed = EXCLUDED.tasks_processed,
			error_count = EXCLUDED.error_count,
			rate_limit_count = EXCLUDED.rate_limit_count,
			total_processing_time_ms = EXCLUDED.total_processing_time_ms,
			registered_at = EXCLUDED.registered_at`

	_, err := r.pool.Exec(ctx, query,
		worker.WorkerID(),
		worker.Status().String(),
		worker.LastHeartbeat(),
		worker.TasksProcessed(),
		worker.ErrorCount(),
		worker.RateLimitCount(),
		worker.TotalProcessingTime().Milliseconds(),
		worker.RegisteredAt(),
	)
	if err != nil {
		return WrapError(err, "register worker")
	}
	return nil
}

// Heartbeat folds a liveness report into the worker row. Counter deltas
// accumulate server-side so concurrent reports from the same process never
// lose increments.
func (r *PostgresWorkerRegistry) Heartbeat(
	ctx context.Context,
	workerID string,
	update outbound.HeartbeatUpdate,
) error {
	if workerID == "" {
		return ErrInvalidArgument
	}

	query := `
		UPDATE receiptqueue.workers
		SET status = $2,
			last_heartbeat = NOW(),
			tasks_processed = tasks_processed + $3,
			error_count = error_count + $4,
			rate_limit_count = rate_limit_count + $5,
			total_processing_time_ms = total_processing_time_ms + $6
		WHERE worker_id = $1`

	tag, err := r.pool.Exec(ctx, query,
		workerID,
		update.Status.String(),
		max64(update.TasksDelta, 0),
		max64(update.ErrorsDelta, 0),
		max64(update.RateLimitDelta, 0),
		maxDuration(update.ProcessingTimeDelta, 0).Milliseconds(),
	)
	if err != nil {
		return WrapError(err, "worker heartbeat")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("worker heartbeat failed: %w", outbound.ErrNotFound)
	}
	return nil
}

// FindByID returns a worker by ID, or nil when absent.
func (r *PostgresWorkerRegistry) FindByID(ctx context.Context, workerID string) (*entity.Worker, error) {
	if workerID == "" {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + workerColumns + ` FROM receiptqueue.workers WHERE worker_id = $1`

	worker, err := scanWorker(r.pool.QueryRow(ctx, query, workerID))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find worker by ID")
	}
	return worker, nil
}

// FindAll returns every registered worker ordered by ID.
func (r *PostgresWorkerRegistry) FindAll(ctx context.Context) ([]*entity.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM receiptqueue.workers ORDER BY worker_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, WrapError(err, "find all workers")
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// FindDead returns workers considered crashed at the given time: not
// stopped, with a heartbeat older than the threshold.
func (r *PostgresWorkerRegistry) FindDead(
	ctx context.Context,
	now time.Time,
	threshold time.Duration,
) ([]*entity.Worker, error) {
	query := `
		SELECT ` + workerColumns + ` FROM receiptqueue.workers
		WHERE status <> 'stopped' AND last_heartbeat < $1
		ORDER BY worker_id`

	rows, err := r.pool.Query(ctx, query, now.Add(-threshold))
	if err != nil {
		return nil, WrapError(err, "find dead workers")
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// MarkStopped records a clean shutdown.
func (r *PostgresWorkerRegistry) MarkStopped(ctx context.Context, workerID string) error {
	if workerID == "" {
		return ErrInvalidArgument
	}

	query := `
		UPDATE receiptqueue.workers
		SET status = 'stopped', last_heartbeat = NOW()
		WHERE worker_id = $1`

	tag, err := r.pool.Exec(ctx, query, workerID)
	if err != nil {
		return WrapError(err, "mark worker stopped")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark worker stopped failed: %w", outbound.ErrNotFound)
	}
	return nil
}

func scanWorker(row pgx.Row) (*entity.Worker, error) {
	var (
		workerID, statusStr             string
		lastHeartbeat, registeredAt     time.Time
		tasksProcessed, errorCount      int64
		rateLimitCount, totalProcMillis int64
	)

	err := row.Scan(
		&workerID, &statusStr, &lastHeartbeat, &tasksProcessed,
		&errorCount, &rateLimitCount, &totalProcMillis, &registeredAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := valueobject.NewWorkerStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("restore worker %s: %w", workerID, err)
	}

	return entity.RestoreWorker(
		workerID, status, lastHeartbeat,
		tasksProcessed, errorCount, rateLimitCount,
		time.Duration(totalProcMillis)*time.Millisecond,
		registeredAt,
	), nil
}

func collectWorkers(rows pgx.Rows) ([]*entity.Worker, error) {
	workers := make([]*entity.Worker, 0)
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, WrapError(err, "scan worker")
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}

func maxDuration(v, floor time.Duration) time.Duration {
	if v < floor {
		return floor
	}
	return v
}
