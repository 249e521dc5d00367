package service

import (
	"context"
	"fmt"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"
)

// EventStream delivers the live change-event feed. The NATS subscriber
// adapter satisfies this.
type EventStream interface {
	Connect() error
	Subscribe(ctx context.Context, handler outbound.ChangeEventHandler) error
	Close() error
}

// SnapshotItem is one queue item in a backfill snapshot.
type SnapshotItem struct {
	ID        string                 `json:"id"`
	Status    valueobject.ItemStatus `json:"status"`
	Priority  string                 `json:"priority"`
	Provider  string                 `json:"provider"`
	ClaimedBy string                 `json:"claimed_by,omitempty"`
	Attempts  int                    `json:"attempts"`
}

// SnapshotWorker is one worker record in a backfill snapshot.
type SnapshotWorker struct {
	WorkerID       string    `json:"worker_id"`
	Status         string    `json:"status"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	TasksProcessed int64     `json:"tasks_processed"`
}

// Snapshot is the current queue state, used by observers to recover from
// missed events before tailing the live stream.
type Snapshot struct {
	Items       []SnapshotItem                   `json:"items"`
	Workers     []SnapshotWorker                 `json:"workers"`
	StatusCount map[valueobject.ItemStatus]int64 `json:"status_count"`
	TakenAt     time.Time                        `json:"taken_at"`
}

// ObserverService tails the change-event stream and exposes point-in-time
// snapshots. Events reach the handler at least once; handlers must be
// idempotent against replays.
type ObserverService struct {
	stream   EventStream
	store    outbound.QueueStore
	registry outbound.WorkerRegistry
}

// NewObserverService creates an observer over the given stream and stores.
func NewObserverService(
	stream EventStream,
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
) *ObserverService {
	return &ObserverService{stream: stream, store: store, registry: registry}
}

// Watch connects the stream and forwards every change event to handler
// until the context is cancelled. Handler errors are logged and the event
// is left for redelivery.
func (s *ObserverService) Watch(ctx context.Context, handler outbound.ChangeEventHandler) error {
	if err := s.stream.Connect(); err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	if err := s.stream.Subscribe(ctx, handler); err != nil {
		return fmt.Errorf("subscribe event stream: %w", err)
	}

	<-ctx.Done()
	if err := s.stream.Close(); err != nil {
		slogger.Warn(ctx, "Event stream close failed", slogger.Field("error", err.Error()))
	}
	return ctx.Err()
}

// Backfill returns the current queue state from the stores. Observers call
// it after (re)connecting, then reconcile the live stream against it.
func (s *ObserverService) Backfill(ctx context.Context) (*Snapshot, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	items, err := s.store.FindByFilter(ctx, outbound.ItemFilter{
		Statuses: []valueobject.ItemStatus{
			valueobject.ItemStatusPending,
			valueobject.ItemStatusProcessing,
			valueobject.ItemStatusRateLimited,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}

	workers, err := s.registry.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	snapshot := &Snapshot{
		Items:       make([]SnapshotItem, 0, len(items)),
		Workers:     make([]SnapshotWorker, 0, len(workers)),
		StatusCount: counts,
		TakenAt:     time.Now(),
	}
	for _, item := range items {
		entry := SnapshotItem{
			ID:       item.ID().String(),
			Status:   item.Status(),
			Priority: item.Priority().String(),
			Provider: item.Provider(),
			Attempts: item.Attempts(),
		}
		if claimedBy := item.ClaimedBy(); claimedBy != nil {
			entry.ClaimedBy = *claimedBy
		}
		snapshot.Items = append(snapshot.Items, entry)
	}
	for _, w := range workers {
		snapshot.Workers = append(snapshot.Workers, SnapshotWorker{
			WorkerID:       w.WorkerID(),
			Status:         w.Status().String(),
			LastHeartbeat:  w.LastHeartbeat(),
			TasksProcessed: w.TasksProcessed(),
		})
	}
	return snapshot, nil
}
