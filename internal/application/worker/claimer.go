// Package worker contains the claim-and-process loop that drains the
// queue, plus the batch claimer it shares with operational tooling.
package worker

import (
	"context"
	"fmt"

	"receiptqueue/internal/application/ratelimit"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"
)

// Claimer wraps atomic batch claiming with the runtime controls layered on
// top: the live queue configuration and provider cool-downs. It reads the
// configuration fresh on every claim so pause and batch-size changes take
// effect on the next cycle without restarts.
type Claimer struct {
	store       outbound.QueueStore
	configStore outbound.ConfigStore
	limiter     *ratelimit.Limiter
}

// NewClaimer creates a claimer.
func NewClaimer(
	store outbound.QueueStore,
	configStore outbound.ConfigStore,
	limiter *ratelimit.Limiter,
) *Claimer {
	return &Claimer{
		store:       store,
		configStore: configStore,
		limiter:     limiter,
	}
}

// Claim atomically claims up to requested items for workerID. The batch is
// empty, without error, when the queue is disabled; an empty batch is a
// back-off signal, not a failure.
func (c *Claimer) Claim(ctx context.Context, workerID string, requested int) ([]*entity.QueueItem, error) {
	config, err := c.configStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue config: %w", err)
	}
	if !config.QueueEnabled() {
		return nil, nil
	}

	limit := requested
	if limit <= 0 || limit > config.BatchSize() {
		limit = config.BatchSize()
	}

	excluded, err := c.limiter.LimitedProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("limited providers: %w", err)
	}

	items, err := c.store.ClaimBatch(ctx, workerID, limit, excluded)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return items, nil
}

// MaxWorkers returns the current worker cap from the live configuration.
func (c *Claimer) MaxWorkers(ctx context.Context) (int, error) {
	config, err := c.configStore.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue config: %w", err)
	}
	return config.MaxConcurrentWorkers(), nil
}
