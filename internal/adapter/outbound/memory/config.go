package memory

import (
	"context"
	"sync"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"
)

// ConfigStore implements outbound.ConfigStore in memory.
type ConfigStore struct {
	mu     sync.Mutex
	config *entity.QueueConfig
}

// NewConfigStore creates a config store seeded with the default queue config.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: entity.DefaultQueueConfig(),
	}
}

var _ outbound.ConfigStore = (*ConfigStore)(nil)

// Load returns a copy of the current queue configuration so callers can
// mutate and save it without racing other readers.
func (c *ConfigStore) Load(_ context.Context) (*entity.QueueConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return entity.RestoreQueueConfig(
		c.config.BatchSize(),
		c.config.MaxConcurrentWorkers(),
		c.config.QueueEnabled(),
		c.config.Version(),
		c.config.UpdatedBy(),
		c.config.UpdatedAt(),
	), nil
}

// Save stores a new queue configuration, rejecting stale versions.
func (c *ConfigStore) Save(_ context.Context, config *entity.QueueConfig) error {
	if config == nil {
		return outbound.ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config != nil && config.Version() <= c.config.Version() {
		return outbound.ErrStaleConfig
	}
	c.config = config
	return nil
}
