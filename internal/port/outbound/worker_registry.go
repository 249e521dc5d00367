package outbound

import (
	"context"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
)

// HeartbeatUpdate carries one heartbeat's status plus counter deltas. The
// registry folds deltas into cumulative per-worker totals.
type HeartbeatUpdate struct {
	Status              valueobject.WorkerStatus
	TasksDelta          int64
	ErrorsDelta         int64
	RateLimitDelta      int64
	ProcessingTimeDelta time.Duration
}

// WorkerRegistry tracks worker identity, liveness and throughput counters.
// It is an append-only heartbeat log collapsed to latest-state-per-worker.
type WorkerRegistry interface {
	// Register creates or refreshes a worker record.
	Register(ctx context.Context, worker *entity.Worker) error

	// Heartbeat upserts the latest state for a worker.
	Heartbeat(ctx context.Context, workerID string, update HeartbeatUpdate) error

	// FindByID returns a worker record, or nil when unknown.
	FindByID(ctx context.Context, workerID string) (*entity.Worker, error)

	// FindAll returns all known workers.
	FindAll(ctx context.Context) ([]*entity.Worker, error)

	// FindDead returns workers whose last heartbeat is older than the
	// threshold at now. This is the sole liveness signal in the system.
	FindDead(ctx context.Context, now time.Time, threshold time.Duration) ([]*entity.Worker, error)

	// MarkStopped records a graceful worker exit.
	MarkStopped(ctx context.Context, workerID string) error
}
