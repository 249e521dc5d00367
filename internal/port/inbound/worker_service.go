package inbound

import (
	"context"
	"time"
)

// WorkerService is the control surface exposed to an external orchestrator.
// It decides how workers behave once running; how many to run is the
// orchestrator's call, soft-capped by the queue configuration.
type WorkerService interface {
	// Start launches the configured number of workers.
	Start(ctx context.Context) error

	// Stop gracefully stops all workers: in-flight batches finish, unclaimed
	// work is released, no new batches are claimed.
	Stop(ctx context.Context) error

	// StopWorker gracefully stops a single worker by ID.
	StopWorker(ctx context.Context, workerID string) error

	// Status reports the current state of every managed worker.
	Status() []WorkerStatusInfo
}

// WorkerStatusInfo describes one managed worker.
type WorkerStatusInfo struct {
	WorkerID       string        `json:"worker_id"`
	Running        bool          `json:"running"`
	TasksProcessed int64         `json:"tasks_processed"`
	ErrorCount     int64         `json:"error_count"`
	RateLimitCount int64         `json:"rate_limit_count"`
	Uptime         time.Duration `json:"uptime"`
}
