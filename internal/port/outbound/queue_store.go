package outbound

import (
	"context"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"

	"github.com/google/uuid"
)

// ItemFilter narrows queue item queries. Zero values mean "no filter".
// Results are always ordered priority descending, createdAt ascending, then
// id ascending so claim selection is deterministic and repeatable.
type ItemFilter struct {
	Statuses   []valueobject.ItemStatus
	Priorities []valueobject.Priority
	OlderThan  *time.Time
	Limit      int
}

// QueueStore is the durable table of work items and the single source of
// truth for job state. The pending→processing transition in ClaimBatch is
// the only operation requiring cross-worker mutual exclusion; it must be
// atomic so no two claim calls ever return overlapping items.
type QueueStore interface {
	// Enqueue inserts a new item. It returns ErrDuplicateItem when an
	// item for the same (sourceType, sourceID, operation) tuple is
	// already pending or processing.
	Enqueue(ctx context.Context, item *entity.QueueItem) error

	// FindByID returns an item by ID, or nil when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)

	// FindByFilter returns items matching the filter in claim order.
	FindByFilter(ctx context.Context, filter ItemFilter) ([]*entity.QueueItem, error)

	// ClaimBatch atomically transitions up to limit pending items to
	// processing on behalf of workerID, skipping items whose provider is
	// in excludedProviders and items still inside a cool-down window.
	// Returns the claimed items in claim order; an empty slice is a
	// back-off signal, not an error.
	ClaimBatch(ctx context.Context, workerID string, limit int, excludedProviders []string) ([]*entity.QueueItem, error)

	// MarkCompleted finalizes an item. Idempotent: a replayed report
	// returns applied=false and changes nothing.
	MarkCompleted(ctx context.Context, id uuid.UUID, processingTime time.Duration) (bool, error)

	// MarkFailed records a terminal failure. Idempotent like MarkCompleted.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)

	// MarkRateLimited parks a processing item until the cool-down passes.
	MarkRateLimited(ctx context.Context, id uuid.UUID, until time.Time) (bool, error)

	// ReleaseClaims returns all of a worker's processing items to pending.
	// Used for graceful shutdown hand-off.
	ReleaseClaims(ctx context.Context, workerID string) (int64, error)

	// RequeueStale resets processing items claimed by any of the given
	// workers and not updated since staleBefore. Returns affected rows.
	RequeueStale(ctx context.Context, workerIDs []string, staleBefore time.Time) (int64, error)

	// ResetRateLimited returns rate_limited items whose cool-down has
	// elapsed at now back to pending. Returns affected rows.
	ResetRateLimited(ctx context.Context, now time.Time) (int64, error)

	// RequeueFailed returns up to maxItems failed items that still have
	// retry budget (attempts < maxAttempts) to pending.
	RequeueFailed(ctx context.Context, maxItems, maxAttempts int) (int64, error)

	// PurgeTerminal deletes completed/failed items older than olderThan.
	// The only destructive operation; it must never touch non-terminal
	// items regardless of age.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)

	// CountByStatus returns item counts grouped by status.
	CountByStatus(ctx context.Context) (map[valueobject.ItemStatus]int64, error)

	// OldestPendingAge returns the age of the oldest pending item, zero
	// when the backlog is empty.
	OldestPendingAge(ctx context.Context) (time.Duration, error)

	// AverageProcessingTime returns the mean recorded processing duration
	// of completed items inside the trailing window.
	AverageProcessingTime(ctx context.Context, window time.Duration) (time.Duration, error)

	// CompletedSince counts items completed after the given time.
	CompletedSince(ctx context.Context, since time.Time) (int64, error)
}

// ConfigStore persists the queue's runtime configuration. The config is
// versioned; Save must reject writes based on a stale version.
type ConfigStore interface {
	Load(ctx context.Context) (*entity.QueueConfig, error)
	Save(ctx context.Context, config *entity.QueueConfig) error
}

// RateLimitStore persists per-provider rate limit windows.
type RateLimitStore interface {
	Load(ctx context.Context, provider string) (*entity.RateLimitState, error)
	LoadAll(ctx context.Context) ([]*entity.RateLimitState, error)
	Save(ctx context.Context, state *entity.RateLimitState) error
}
