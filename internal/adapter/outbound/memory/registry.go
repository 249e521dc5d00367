package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"
)

// Registry implements outbound.WorkerRegistry in memory.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*entity.Worker
}

// NewRegistry creates an empty in-memory worker registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*entity.Worker),
	}
}

var _ outbound.WorkerRegistry = (*Registry)(nil)

// Register creates or refreshes a worker record.
func (r *Registry) Register(_ context.Context, worker *entity.Worker) error {
	if worker == nil {
		return outbound.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers[worker.WorkerID()] = worker
	return nil
}

// Heartbeat upserts the latest state for a worker.
func (r *Registry) Heartbeat(_ context.Context, workerID string, update outbound.HeartbeatUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return outbound.ErrNotFound
	}
	return worker.Heartbeat(
		update.Status,
		update.TasksDelta,
		update.ErrorsDelta,
		update.RateLimitDelta,
		update.ProcessingTimeDelta,
	)
}

// FindByID returns a worker record, or nil when unknown.
func (r *Registry) FindByID(_ context.Context, workerID string) (*entity.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return nil, nil
	}
	return worker, nil
}

// FindAll returns all known workers ordered by worker ID.
func (r *Registry) FindAll(_ context.Context) ([]*entity.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers := make([]*entity.Worker, 0, len(r.workers))
	for _, worker := range r.workers {
		workers = append(workers, worker)
	}
	sort.Slice(workers, func(a, b int) bool {
		return workers[a].WorkerID() < workers[b].WorkerID()
	})
	return workers, nil
}

// FindDead returns workers whose last heartbeat is older than the threshold.
func (r *Registry) FindDead(_ context.Context, now time.Time, threshold time.Duration) ([]*entity.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []*entity.Worker
	for _, worker := range r.workers {
		if worker.Status() == valueobject.WorkerStatusStopped {
			continue
		}
		if !worker.IsAlive(now, threshold) {
			dead = append(dead, worker)
		}
	}
	sort.Slice(dead, func(a, b int) bool {
		return dead[a].WorkerID() < dead[b].WorkerID()
	})
	return dead, nil
}

// MarkStopped records a graceful worker exit.
func (r *Registry) MarkStopped(_ context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return outbound.ErrNotFound
	}
	worker.Stop()
	return nil
}
