// Package service wires the application's use cases: enqueueing work,
// runtime configuration updates, the worker pool control surface, the
// maintenance sweeps and the live update observer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
)

// Config keys accepted by UpdateConfig.
const (
	ConfigKeyBatchSize  = "batch_size"
	ConfigKeyMaxWorkers = "max_workers"
	ConfigKeyEnabled    = "enabled"
)

// EnqueueRequest describes one unit of work to submit.
type EnqueueRequest struct {
	SourceType string
	SourceID   string
	Operation  string
	Priority   string
	Provider   string
}

// QueueService is the write-side API for producers and operators.
type QueueService struct {
	store       outbound.QueueStore
	configStore outbound.ConfigStore
	publisher   outbound.EventPublisher
}

// NewQueueService creates a queue service. publisher may be nil when no
// live update channel is configured.
func NewQueueService(
	store outbound.QueueStore,
	configStore outbound.ConfigStore,
	publisher outbound.EventPublisher,
) *QueueService {
	return &QueueService{
		store:       store,
		configStore: configStore,
		publisher:   publisher,
	}
}

// Enqueue validates and submits a work item. A duplicate of a pending or
// processing item surfaces outbound.ErrDuplicateItem.
func (s *QueueService) Enqueue(ctx context.Context, request EnqueueRequest) (*entity.QueueItem, error) {
	operation, err := valueobject.NewOperation(request.Operation)
	if err != nil {
		return nil, fmt.Errorf("invalid operation: %w", err)
	}

	priority := valueobject.PriorityMedium
	if request.Priority != "" {
		priority, err = valueobject.NewPriority(request.Priority)
		if err != nil {
			return nil, fmt.Errorf("invalid priority: %w", err)
		}
	}

	item, err := entity.NewQueueItem(request.SourceType, request.SourceID, operation, priority, request.Provider)
	if err != nil {
		return nil, err
	}

	if err := s.store.Enqueue(ctx, item); err != nil {
		return nil, err
	}

	slogger.Info(ctx, "Item enqueued", slogger.Fields3(
		"item_id", item.ID(),
		"priority", priority.String(),
		"provider", request.Provider,
	))
	return item, nil
}

// UpdateConfig is the sole mutation path for the runtime queue
// configuration. Unknown keys and invalid values are rejected without
// touching stored state; a successful update bumps the version and emits
// a change event.
func (s *QueueService) UpdateConfig(
	ctx context.Context,
	key, value, updatedBy string,
) (*entity.QueueConfig, error) {
	if updatedBy == "" {
		return nil, entity.NewDomainError("updatedBy cannot be empty", "INVALID_UPDATED_BY")
	}

	config, err := s.configStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue config: %w", err)
	}
	previousVersion := config.Version()

	switch key {
	case ConfigKeyBatchSize:
		size, convErr := strconv.Atoi(value)
		if convErr != nil {
			return nil, entity.NewDomainError("batch size must be an integer", "INVALID_CONFIG_VALUE")
		}
		if err := config.UpdateBatchSize(size, updatedBy); err != nil {
			return nil, err
		}
	case ConfigKeyMaxWorkers:
		workers, convErr := strconv.Atoi(value)
		if convErr != nil {
			return nil, entity.NewDomainError("max workers must be an integer", "INVALID_CONFIG_VALUE")
		}
		if err := config.UpdateMaxWorkers(workers, updatedBy); err != nil {
			return nil, err
		}
	case ConfigKeyEnabled:
		enabled, convErr := strconv.ParseBool(strings.ToLower(value))
		if convErr != nil {
			return nil, entity.NewDomainError("enabled must be a boolean", "INVALID_CONFIG_VALUE")
		}
		config.SetEnabled(enabled, updatedBy)
	default:
		return nil, entity.NewDomainError(
			fmt.Sprintf("unknown config key %q", key), "UNKNOWN_CONFIG_KEY")
	}

	if err := s.configStore.Save(ctx, config); err != nil {
		return nil, fmt.Errorf("save queue config: %w", err)
	}

	slogger.Info(ctx, "Queue config updated", slogger.Fields3(
		"key", key,
		"value", value,
		"updated_by", updatedBy,
	))
	s.publishConfigEvent(ctx, previousVersion, config)
	return config, nil
}

func (s *QueueService) publishConfigEvent(ctx context.Context, previousVersion int, config *entity.QueueConfig) {
	if s.publisher == nil {
		return
	}

	after, err := json.Marshal(map[string]interface{}{
		"batch_size":  config.BatchSize(),
		"max_workers": config.MaxConcurrentWorkers(),
		"enabled":     config.QueueEnabled(),
		"version":     config.Version(),
		"updated_by":  config.UpdatedBy(),
	})
	if err != nil {
		return
	}
	before, _ := json.Marshal(map[string]interface{}{"version": previousVersion})

	event := outbound.ChangeEvent{
		EventID:   uuid.New().String(),
		EventType: outbound.ChangeEventUpdate,
		Table:     outbound.ChangeTableConfig,
		Before:    before,
		After:     after,
		Timestamp: time.Now(),
	}
	if err := s.publisher.PublishChangeEvent(ctx, event); err != nil {
		slogger.Warn(ctx, "Config change event publish failed", slogger.Field("error", err.Error()))
	}
}
