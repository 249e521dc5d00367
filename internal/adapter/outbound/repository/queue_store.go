package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// priorityRank orders rows critical > high > medium > low inside SQL. It
// must stay in sync with valueobject.Priority.Rank.
const priorityRank = `CASE priority
		WHEN 'critical' THEN 3
		WHEN 'high' THEN 2
		WHEN 'medium' THEN 1
		ELSE 0
	END`

// claimOrder is the deterministic selection order shared by claims and
// filtered listings.
const claimOrder = priorityRank + ` DESC, created_at ASC, id ASC`

const queueItemColumns = `id, source_type, source_id, operation, priority, status,
		provider, attempts, last_error, claimed_by, rate_limited_until,
		processing_time_ms, created_at, updated_at, completed_at`

// PostgresQueueStore implements the QueueStore interface.
type PostgresQueueStore struct {
	pool *pgxpool.Pool
}

// NewPostgresQueueStore creates a new PostgreSQL queue store.
func NewPostgresQueueStore(pool *pgxpool.Pool) *PostgresQueueStore {
	return &PostgresQueueStore{pool: pool}
}

var _ outbound.QueueStore = (*PostgresQueueStore)(nil)

// Enqueue inserts a new item. A partial unique index on
// (source_type, source_id, operation) over pending/processing rows turns a
// live duplicate into ErrDuplicateItem.
func (s *PostgresQueueStore) Enqueue(ctx context.Context, item *entity.QueueItem) error {
	if item == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO receiptqueue.queue_items (` + queueItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.pool.Exec(ctx, query,
		item.ID(),
		item.SourceType(),
		item.SourceID(),
		item.Operation().String(),
		item.Priority().String(),
		item.Status().String(),
		item.Provider(),
		item.Attempts(),
		item.LastError(),
		item.ClaimedBy(),
		item.RateLimitedUntil(),
		durationToMillis(item.ProcessingTime()),
		item.CreatedAt(),
		item.UpdatedAt(),
		item.CompletedAt(),
	)
	if err != nil {
		return WrapError(err, "enqueue item")
	}
	return nil
}

// FindByID returns an item by ID, or nil when absent.
func (s *PostgresQueueStore) FindByID(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + queueItemColumns + ` FROM receiptqueue.queue_items WHERE id = $1`

	item, err := scanQueueItem(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find item by ID")
	}
	return item, nil
}

// FindByFilter returns items matching the filter in claim order.
func (s *PostgresQueueStore) FindByFilter(
	ctx context.Context,
	filter outbound.ItemFilter,
) ([]*entity.QueueItem, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = status.String()
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statuses)
		argIndex++
	}
	if len(filter.Priorities) > 0 {
		priorities := make([]string, len(filter.Priorities))
		for i, priority := range filter.Priorities {
			priorities[i] = priority.String()
		}
		conditions = append(conditions, fmt.Sprintf("priority = ANY($%d)", argIndex))
		args = append(args, priorities)
		argIndex++
	}
	if filter.OlderThan != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.OlderThan)
		argIndex++
	}

	query := `SELECT ` + queueItemColumns + ` FROM receiptqueue.queue_items`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + claimOrder
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapError(err, "find items by filter")
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// ClaimBatch atomically transitions up to limit pending items to processing
// on behalf of workerID. FOR UPDATE SKIP LOCKED in the selection subquery
// makes concurrent claims disjoint without blocking.
func (s *PostgresQueueStore) ClaimBatch(
	ctx context.Context,
	workerID string,
	limit int,
	excludedProviders []string,
) ([]*entity.QueueItem, error) {
	if workerID == "" || limit <= 0 {
		return nil, ErrInvalidArgument
	}
	if excludedProviders == nil {
		excludedProviders = []string{}
	}

	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'processing',
			claimed_by = $1,
			attempts = attempts + 1,
			rate_limited_until = NULL,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM receiptqueue.queue_items
			WHERE status = 'pending'
				AND provider <> ALL($2)
				AND (rate_limited_until IS NULL OR rate_limited_until <= NOW())
			ORDER BY ` + claimOrder + `
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueItemColumns

	rows, err := s.pool.Query(ctx, query, workerID, excludedProviders, limit)
	if err != nil {
		return nil, WrapError(err, "claim batch")
	}
	defer rows.Close()

	items, err := collectQueueItems(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING rows come back in physical update order.
	sortByClaimOrder(items)
	return items, nil
}

// MarkCompleted finalizes an item. The status predicate makes replays
// no-ops reported through applied=false.
func (s *PostgresQueueStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	processingTime time.Duration,
) (bool, error) {
	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'completed',
			claimed_by = NULL,
			processing_time_ms = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, processingTime.Milliseconds())
	if err != nil {
		return false, WrapError(err, "mark item completed")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a terminal failure. Idempotent like MarkCompleted.
func (s *PostgresQueueStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'failed',
			claimed_by = NULL,
			last_error = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return false, WrapError(err, "mark item failed")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRateLimited parks a processing item until the cool-down passes. The
// attempt consumed by the claim is handed back; rate limits do not count
// against the retry budget.
func (s *PostgresQueueStore) MarkRateLimited(ctx context.Context, id uuid.UUID, until time.Time) (bool, error) {
	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'rate_limited',
			claimed_by = NULL,
			rate_limited_until = $2,
			attempts = GREATEST(attempts - 1, 0),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, until)
	if err != nil {
		return false, WrapError(err, "mark item rate limited")
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseClaims returns all of a worker's processing items to pending.
func (s *PostgresQueueStore) ReleaseClaims(ctx context.Context, workerID string) (int64, error) {
	if workerID == "" {
		return 0, ErrInvalidArgument
	}

	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'pending',
			claimed_by = NULL,
			updated_at = NOW()
		WHERE status = 'processing' AND claimed_by = $1`

	tag, err := s.pool.Exec(ctx, query, workerID)
	if err != nil {
		return 0, WrapError(err, "release claims")
	}
	return tag.RowsAffected(), nil
}

// RequeueStale resets processing items claimed by any of the given workers
// and not updated since staleBefore.
func (s *PostgresQueueStore) RequeueStale(
	ctx context.Context,
	workerIDs []string,
	staleBefore time.Time,
) (int64, error) {
	if len(workerIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'pending',
			claimed_by = NULL,
			updated_at = NOW()
		WHERE status = 'processing'
			AND claimed_by = ANY($1)
			AND updated_at < $2`

	tag, err := s.pool.Exec(ctx, query, workerIDs, staleBefore)
	if err != nil {
		return 0, WrapError(err, "requeue stale items")
	}
	return tag.RowsAffected(), nil
}

// ResetRateLimited returns rate_limited items whose cool-down has elapsed
// back to pending.
func (s *PostgresQueueStore) ResetRateLimited(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'pending',
			rate_limited_until = NULL,
			updated_at = NOW()
		WHERE status = 'rate_limited' AND rate_limited_until <= $1`

	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, WrapError(err, "reset rate limited items")
	}
	return tag.RowsAffected(), nil
}

// RequeueFailed returns up to maxItems failed items that still have retry
// budget to pending.
func (s *PostgresQueueStore) RequeueFailed(ctx context.Context, maxItems, maxAttempts int) (int64, error) {
	if maxItems <= 0 {
		return 0, nil
	}

	query := `
		UPDATE receiptqueue.queue_items
		SET status = 'pending',
			last_error = NULL,
			completed_at = NULL,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM receiptqueue.queue_items
			WHERE status = 'failed' AND attempts < $1
			ORDER BY ` + claimOrder + `
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	tag, err := s.pool.Exec(ctx, query, maxAttempts, maxItems)
	if err != nil {
		return 0, WrapError(err, "requeue failed items")
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminal deletes completed/failed items older than olderThan. The
// status predicate keeps every non-terminal item regardless of age.
func (s *PostgresQueueStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM receiptqueue.queue_items
		WHERE status IN ('completed', 'failed')
			AND COALESCE(completed_at, updated_at) < $1`

	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, WrapError(err, "purge terminal items")
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns item counts grouped by status.
func (s *PostgresQueueStore) CountByStatus(ctx context.Context) (map[valueobject.ItemStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM receiptqueue.queue_items GROUP BY status`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, WrapError(err, "count items by status")
	}
	defer rows.Close()

	counts := make(map[valueobject.ItemStatus]int64)
	for rows.Next() {
		var statusStr string
		var count int64
		if err := rows.Scan(&statusStr, &count); err != nil {
			return nil, WrapError(err, "count items by status")
		}
		status, err := valueobject.NewItemStatus(statusStr)
		if err != nil {
			return nil, fmt.Errorf("unknown status %q in queue_items: %w", statusStr, err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// OldestPendingAge returns the age of the oldest pending item, zero when
// the backlog is empty.
func (s *PostgresQueueStore) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	query := `SELECT MIN(created_at) FROM receiptqueue.queue_items WHERE status = 'pending'`

	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&oldest); err != nil {
		return 0, WrapError(err, "oldest pending age")
	}
	if oldest == nil {
		return 0, nil
	}
	return time.Since(*oldest), nil
}

// AverageProcessingTime returns the mean recorded processing duration of
// completed items inside the trailing window.
func (s *PostgresQueueStore) AverageProcessingTime(
	ctx context.Context,
	window time.Duration,
) (time.Duration, error) {
	query := `
		SELECT AVG(processing_time_ms)
		FROM receiptqueue.queue_items
		WHERE status = 'completed'
			AND processing_time_ms IS NOT NULL
			AND completed_at >= $1`

	var avgMillis *float64
	if err := s.pool.QueryRow(ctx, query, time.Now().Add(-window)).Scan(&avgMillis); err != nil {
		return 0, WrapError(err, "average processing time")
	}
	if avgMillis == nil {
		return 0, nil
	}
	return time.Duration(*avgMillis * float64(time.Millisecond)), nil
}

// CompletedSince counts items completed after the given time.
func (s *PostgresQueueStore) CompletedSince(ctx context.Context, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM receiptqueue.queue_items
		WHERE status = 'completed' AND completed_at >= $1`

	var count int64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, WrapError(err, "count completed since")
	}
	return count, nil
}

func scanQueueItem(row pgx.Row) (*entity.QueueItem, error) {
	var (
		id                        uuid.UUID
		sourceType, sourceID      string
		operationStr, priorityStr string
		statusStr, provider       string
		attempts                  int
		lastError, claimedBy      *string
		rateLimitedUntil          *time.Time
		processingMillis          *int64
		createdAt, updatedAt      time.Time
		completedAt               *time.Time
	)

	err := row.Scan(
		&id, &sourceType, &sourceID, &operationStr, &priorityStr, &statusStr,
		&provider, &attempts, &lastError, &claimedBy, &rateLimitedUntil,
		&processingMillis, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	operation, err := valueobject.NewOperation(operationStr)
	if err != nil {
		return nil, fmt.Errorf("restore queue item %s: %w", id, err)
	}
	priority, err := valueobject.NewPriority(priorityStr)
	if err != nil {
		return nil, fmt.Errorf("restore queue item %s: %w", id, err)
	}
	status, err := valueobject.NewItemStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("restore queue item %s: %w", id, err)
	}

	return entity.RestoreQueueItem(
		id, sourceType, sourceID, operation, priority, status, provider,
		attempts, lastError, claimedBy, rateLimitedUntil,
		millisToDuration(processingMillis), createdAt, updatedAt, completedAt,
	), nil
}

func collectQueueItems(rows pgx.Rows) ([]*entity.QueueItem, error) {
	items := make([]*entity.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, WrapError(err, "scan queue item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func sortByClaimOrder(items []*entity.QueueItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && claimLess(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func claimLess(a, b *entity.QueueItem) bool {
	if a.Priority().Rank() != b.Priority().Rank() {
		return a.Priority().Rank() > b.Priority().Rank()
	}
	if !a.CreatedAt().Equal(b.CreatedAt()) {
		return a.CreatedAt().Before(b.CreatedAt())
	}
	return a.ID().String() < b.ID().String()
}

func durationToMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	millis := d.Milliseconds()
	return &millis
}

func millisToDuration(millis *int64) *time.Duration {
	if millis == nil {
		return nil
	}
	d := time.Duration(*millis) * time.Millisecond
	return &d
}
