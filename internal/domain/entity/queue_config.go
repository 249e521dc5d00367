package entity

import (
	"time"
)

// Queue configuration bounds.
const (
	MinBatchSize = 1
	MaxBatchSize = 1000
)

// QueueConfig is the process-wide tunable queue state. It is versioned and
// only ever mutated through UpdateBatchSize/UpdateMaxWorkers/SetEnabled so
// the kill switch takes effect on the next claim attempt.
type QueueConfig struct {
	batchSize            int
	maxConcurrentWorkers int
	queueEnabled         bool
	version              int
	updatedBy            string
	updatedAt            time.Time
}

// DefaultQueueConfig returns the configuration written at first deploy.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		batchSize:            10,
		maxConcurrentWorkers: 3,
		queueEnabled:         true,
		version:              1,
		updatedBy:            "system",
		updatedAt:            time.Now(),
	}
}

// RestoreQueueConfig creates a QueueConfig entity from stored data.
func RestoreQueueConfig(
	batchSize, maxConcurrentWorkers int,
	queueEnabled bool,
	version int,
	updatedBy string,
	updatedAt time.Time,
) *QueueConfig {
	return &QueueConfig{
		batchSize:            batchSize,
		maxConcurrentWorkers: maxConcurrentWorkers,
		queueEnabled:         queueEnabled,
		version:              version,
		updatedBy:            updatedBy,
		updatedAt:            updatedAt,
	}
}

// BatchSize returns the maximum items claimed per batch request.
func (c *QueueConfig) BatchSize() int {
	return c.batchSize
}

// MaxConcurrentWorkers returns the soft cap on running workers.
func (c *QueueConfig) MaxConcurrentWorkers() int {
	return c.maxConcurrentWorkers
}

// QueueEnabled returns false when claiming is refused.
func (c *QueueConfig) QueueEnabled() bool {
	return c.queueEnabled
}

// Version returns the config version, bumped on every update.
func (c *QueueConfig) Version() int {
	return c.version
}

// UpdatedBy returns who performed the last update.
func (c *QueueConfig) UpdatedBy() string {
	return c.updatedBy
}

// UpdatedAt returns when the last update happened.
func (c *QueueConfig) UpdatedAt() time.Time {
	return c.updatedAt
}

// UpdateBatchSize validates and applies a new batch size.
func (c *QueueConfig) UpdateBatchSize(size int, updatedBy string) error {
	if size < MinBatchSize || size > MaxBatchSize {
		return NewDomainError("batch size out of range", "INVALID_BATCH_SIZE")
	}
	c.batchSize = size
	c.bump(updatedBy)
	return nil
}

// UpdateMaxWorkers validates and applies a new worker cap.
func (c *QueueConfig) UpdateMaxWorkers(workers int, updatedBy string) error {
	if workers < 1 {
		return NewDomainError("max concurrent workers must be at least 1", "INVALID_WORKER_COUNT")
	}
	c.maxConcurrentWorkers = workers
	c.bump(updatedBy)
	return nil
}

// SetEnabled flips the queue kill switch.
func (c *QueueConfig) SetEnabled(enabled bool, updatedBy string) {
	c.queueEnabled = enabled
	c.bump(updatedBy)
}

func (c *QueueConfig) bump(updatedBy string) {
	c.version++
	c.updatedBy = updatedBy
	c.updatedAt = time.Now()
}
