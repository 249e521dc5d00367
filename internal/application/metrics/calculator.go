// Package metrics derives queue health numbers from raw store counts and
// cross-checks the derived aggregates for drift.
package metrics

import (
	"time"
)

// Health score component weights. They must sum to 1.
const (
	WeightBacklog = 0.35
	WeightErrors  = 0.35
	WeightWorkers = 0.30
)

// backlogToleranceAge is the oldest-pending age at which the backlog
// component bottoms out.
const backlogToleranceAge = 15 * time.Minute

// HealthInputs are the raw signals feeding the composite health score.
type HealthInputs struct {
	OldestPendingAge time.Duration
	ErrorRate        float64 // failed / (completed + failed), 0..1
	ActiveWorkers    int
	ExpectedWorkers  int
}

// Throughput returns completed items per minute over the window.
func Throughput(completed int64, window time.Duration) float64 {
	if window <= 0 || completed < 0 {
		return 0
	}
	return float64(completed) / window.Minutes()
}

// SuccessRate returns completed / (completed + failed), 1 when nothing has
// finished yet.
func SuccessRate(completed, failed int64) float64 {
	total := completed + failed
	if total <= 0 {
		return 1
	}
	return float64(completed) / float64(total)
}

// WorkerEfficiency returns the fraction of workers actively processing.
func WorkerEfficiency(busy, total int) float64 {
	if total <= 0 {
		return 0
	}
	if busy > total {
		busy = total
	}
	return float64(busy) / float64(total)
}

// HealthScore folds the inputs into a 0..1 composite. Each component
// degrades linearly: backlog by oldest-pending age against the tolerance,
// errors by the raw error rate, workers by the live fraction of the
// expected pool.
func HealthScore(inputs HealthInputs) float64 {
	backlog := 1.0
	if inputs.OldestPendingAge > 0 {
		backlog = 1 - float64(inputs.OldestPendingAge)/float64(backlogToleranceAge)
		backlog = clamp01(backlog)
	}

	errorRate := clamp01(inputs.ErrorRate)
	errs := 1 - errorRate

	workers := 0.0
	if inputs.ExpectedWorkers > 0 {
		workers = clamp01(float64(inputs.ActiveWorkers) / float64(inputs.ExpectedWorkers))
	}

	return WeightBacklog*backlog + WeightErrors*errs + WeightWorkers*workers
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
