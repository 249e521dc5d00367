// Package queue decorates the queue store with change event publishing so
// every observable state transition reaches the live update channel.
// Publishing is strictly best-effort: a failed publish is logged and the
// store write still succeeds.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
)

// PublishingStore wraps a QueueStore and emits a change event after each
// successful mutation. Read methods pass through untouched.
type PublishingStore struct {
	outbound.QueueStore
	publisher outbound.EventPublisher
}

// NewPublishingStore wraps store with change event publishing.
func NewPublishingStore(store outbound.QueueStore, publisher outbound.EventPublisher) *PublishingStore {
	return &PublishingStore{
		QueueStore: store,
		publisher:  publisher,
	}
}

var _ outbound.QueueStore = (*PublishingStore)(nil)

// itemPayload is the wire shape of a queue item inside change events.
type itemPayload struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	ClaimedBy *string   `json:"claimed_by,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
}

func encodeItem(item *entity.QueueItem) json.RawMessage {
	payload, err := json.Marshal(itemPayload{
		ID:        item.ID(),
		Status:    item.Status().String(),
		Priority:  item.Priority().String(),
		Provider:  item.Provider(),
		ClaimedBy: item.ClaimedBy(),
		Attempts:  item.Attempts(),
	})
	if err != nil {
		return nil
	}
	return payload
}

func encodeStatusChange(id uuid.UUID, status string) json.RawMessage {
	payload, err := json.Marshal(itemPayload{ID: id, Status: status})
	if err != nil {
		return nil
	}
	return payload
}

func (p *PublishingStore) publish(
	ctx context.Context,
	eventType outbound.ChangeEventType,
	before, after json.RawMessage,
) {
	event := outbound.ChangeEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Table:     outbound.ChangeTableQueueItems,
		Before:    before,
		After:     after,
		Timestamp: time.Now(),
	}
	if err := p.publisher.PublishChangeEvent(ctx, event); err != nil {
		slogger.Warn(ctx, "Change event publish failed", slogger.Fields2(
			"event_id", event.EventID,
			"error", err.Error(),
		))
	}
}

// Enqueue inserts the item and emits an insert event.
func (p *PublishingStore) Enqueue(ctx context.Context, item *entity.QueueItem) error {
	if err := p.QueueStore.Enqueue(ctx, item); err != nil {
		return err
	}
	p.publish(ctx, outbound.ChangeEventInsert, nil, encodeItem(item))
	return nil
}

// ClaimBatch claims items and emits one update event per claim.
func (p *PublishingStore) ClaimBatch(
	ctx context.Context,
	workerID string,
	limit int,
	excludedProviders []string,
) ([]*entity.QueueItem, error) {
	items, err := p.QueueStore.ClaimBatch(ctx, workerID, limit, excludedProviders)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		p.publish(ctx, outbound.ChangeEventUpdate,
			encodeStatusChange(item.ID(), "pending"), encodeItem(item))
	}
	return items, nil
}

// MarkCompleted finalizes the item and emits an update event when applied.
func (p *PublishingStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	processingTime time.Duration,
) (bool, error) {
	applied, err := p.QueueStore.MarkCompleted(ctx, id, processingTime)
	if err != nil || !applied {
		return applied, err
	}
	p.publish(ctx, outbound.ChangeEventUpdate,
		encodeStatusChange(id, "processing"), encodeStatusChange(id, "completed"))
	return applied, nil
}

// MarkFailed records the failure and emits an update event when applied.
func (p *PublishingStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	applied, err := p.QueueStore.MarkFailed(ctx, id, errorMessage)
	if err != nil || !applied {
		return applied, err
	}
	p.publish(ctx, outbound.ChangeEventUpdate,
		encodeStatusChange(id, "processing"), encodeStatusChange(id, "failed"))
	return applied, nil
}

// MarkRateLimited parks the item and emits an update event when applied.
func (p *PublishingStore) MarkRateLimited(ctx context.Context, id uuid.UUID, until time.Time) (bool, error) {
	applied, err := p.QueueStore.MarkRateLimited(ctx, id, until)
	if err != nil || !applied {
		return applied, err
	}
	p.publish(ctx, outbound.ChangeEventUpdate,
		encodeStatusChange(id, "processing"), encodeStatusChange(id, "rate_limited"))
	return applied, nil
}

// PurgeTerminal deletes old terminal items and emits one delete event
// summarizing the purge.
func (p *PublishingStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	purged, err := p.QueueStore.PurgeTerminal(ctx, olderThan)
	if err != nil || purged == 0 {
		return purged, err
	}

	summary, marshalErr := json.Marshal(map[string]interface{}{
		"purged":     purged,
		"older_than": olderThan,
	})
	if marshalErr == nil {
		p.publish(ctx, outbound.ChangeEventDelete, summary, nil)
	}
	return purged, nil
}
