package entity

import (
	"time"

	"receiptqueue/internal/domain/valueobject"
)

// Worker represents a registered processing agent. Liveness is a derived
// predicate over heartbeat age; there is no push-based crash signal.
type Worker struct {
	workerID            string
	status              valueobject.WorkerStatus
	lastHeartbeat       time.Time
	tasksProcessed      int64
	errorCount          int64
	rateLimitCount      int64
	totalProcessingTime time.Duration
	registeredAt        time.Time
}

// NewWorker registers a new worker in the idle state.
func NewWorker(workerID string) (*Worker, error) {
	if workerID == "" {
		return nil, NewDomainError("worker ID cannot be empty", "INVALID_WORKER_ID")
	}

	now := time.Now()
	return &Worker{
		workerID:      workerID,
		status:        valueobject.WorkerStatusIdle,
		lastHeartbeat: now,
		registeredAt:  now,
	}, nil
}

// RestoreWorker creates a Worker entity from stored data.
func RestoreWorker(
	workerID string,
	status valueobject.WorkerStatus,
	lastHeartbeat time.Time,
	tasksProcessed, errorCount, rateLimitCount int64,
	totalProcessingTime time.Duration,
	registeredAt time.Time,
) *Worker {
	return &Worker{
		workerID:            workerID,
		status:              status,
		lastHeartbeat:       lastHeartbeat,
		tasksProcessed:      tasksProcessed,
		errorCount:          errorCount,
		rateLimitCount:      rateLimitCount,
		totalProcessingTime: totalProcessingTime,
		registeredAt:        registeredAt,
	}
}

// WorkerID returns the stable worker identity.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Status returns the worker lifecycle status.
func (w *Worker) Status() valueobject.WorkerStatus {
	return w.status
}

// LastHeartbeat returns the timestamp of the most recent heartbeat.
func (w *Worker) LastHeartbeat() time.Time {
	return w.lastHeartbeat
}

// TasksProcessed returns the cumulative processed-item counter.
func (w *Worker) TasksProcessed() int64 {
	return w.tasksProcessed
}

// ErrorCount returns the cumulative error counter.
func (w *Worker) ErrorCount() int64 {
	return w.errorCount
}

// RateLimitCount returns the cumulative rate-limit counter.
func (w *Worker) RateLimitCount() int64 {
	return w.rateLimitCount
}

// TotalProcessingTime returns the cumulative processing duration.
func (w *Worker) TotalProcessingTime() time.Duration {
	return w.totalProcessingTime
}

// RegisteredAt returns when the worker first registered.
func (w *Worker) RegisteredAt() time.Time {
	return w.registeredAt
}

// IsAlive returns true if the last heartbeat is within the liveness threshold.
func (w *Worker) IsAlive(now time.Time, threshold time.Duration) bool {
	return now.Sub(w.lastHeartbeat) <= threshold
}

// AverageProcessingTime derives the mean per-task latency from the
// cumulative counters.
func (w *Worker) AverageProcessingTime() time.Duration {
	if w.tasksProcessed == 0 {
		return 0
	}
	return w.totalProcessingTime / time.Duration(w.tasksProcessed)
}

// Heartbeat refreshes liveness and folds counter deltas into the cumulative
// totals. Deltas must be non-negative; counters only ever grow.
func (w *Worker) Heartbeat(
	status valueobject.WorkerStatus,
	tasksDelta, errorsDelta, rateLimitDelta int64,
	processingTimeDelta time.Duration,
) error {
	if tasksDelta < 0 || errorsDelta < 0 || rateLimitDelta < 0 || processingTimeDelta < 0 {
		return NewDomainError("heartbeat counter deltas must be non-negative", "INVALID_HEARTBEAT_DELTA")
	}

	w.status = status
	w.lastHeartbeat = time.Now()
	w.tasksProcessed += tasksDelta
	w.errorCount += errorsDelta
	w.rateLimitCount += rateLimitDelta
	w.totalProcessingTime += processingTimeDelta
	return nil
}

// Stop marks the worker as stopped.
func (w *Worker) Stop() {
	w.status = valueobject.WorkerStatusStopped
	w.lastHeartbeat = time.Now()
}
