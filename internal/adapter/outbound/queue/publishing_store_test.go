package queue

import (
	"context"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/adapter/outbound/messaging"
	"receiptqueue/internal/config"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublishingFixture(t *testing.T) (*PublishingStore, *messaging.NATSEventPublisher) {
	t.Helper()
	publisher, err := messaging.NewNATSEventPublisher(config.NATSConfig{
		URL:      "nats://localhost:4222",
		TestMode: true,
	})
	require.NoError(t, err)
	require.NoError(t, publisher.Connect())
	return NewPublishingStore(memory.NewStore(), publisher), publisher
}

func newItem(t *testing.T) *entity.QueueItem {
	t.Helper()
	item, err := entity.NewQueueItem(
		"receipt", "r-1", valueobject.OperationInsert, valueobject.PriorityHigh, "openai",
	)
	require.NoError(t, err)
	return item
}

func TestPublishingStoreEmitsLifecycleEvents(t *testing.T) {
	store, publisher := newPublishingFixture(t)
	ctx := context.Background()

	item := newItem(t)
	require.NoError(t, store.Enqueue(ctx, item))

	claimed, err := store.ClaimBatch(ctx, "worker-1", 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	applied, err := store.MarkCompleted(ctx, item.ID(), 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, applied)

	events := publisher.PublishedEvents()
	require.Len(t, events, 3)
	assert.Equal(t, outbound.ChangeEventInsert, events[0].EventType)
	assert.Equal(t, outbound.ChangeEventUpdate, events[1].EventType)
	assert.Equal(t, outbound.ChangeEventUpdate, events[2].EventType)
	for _, event := range events {
		assert.Equal(t, outbound.ChangeTableQueueItems, event.Table)
		assert.NotEmpty(t, event.EventID)
	}
}

func TestPublishingStoreNoEventOnIdempotentReplay(t *testing.T) {
	store, publisher := newPublishingFixture(t)
	ctx := context.Background()

	item := newItem(t)
	require.NoError(t, store.Enqueue(ctx, item))
	_, err := store.ClaimBatch(ctx, "worker-1", 1, nil)
	require.NoError(t, err)

	applied, err := store.MarkCompleted(ctx, item.ID(), time.Millisecond)
	require.NoError(t, err)
	require.True(t, applied)
	baseline := len(publisher.PublishedEvents())

	applied, err = store.MarkCompleted(ctx, item.ID(), time.Millisecond)
	require.NoError(t, err)
	require.False(t, applied)
	assert.Len(t, publisher.PublishedEvents(), baseline)
}

func TestPublishingStoreWriteSucceedsWhenPublishFails(t *testing.T) {
	publisher, err := messaging.NewNATSEventPublisher(config.NATSConfig{
		URL:      "nats://localhost:4222",
		TestMode: true,
	})
	require.NoError(t, err)
	// Never connected: every publish fails.
	store := NewPublishingStore(memory.NewStore(), publisher)

	item := newItem(t)
	require.NoError(t, store.Enqueue(context.Background(), item))

	found, err := store.FindByID(context.Background(), item.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(1), publisher.Metrics().FailedCount)
}
