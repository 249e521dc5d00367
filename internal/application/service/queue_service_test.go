package service

import (
	"context"
	"encoding/json"
	"testing"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/adapter/outbound/messaging"
	"receiptqueue/internal/config"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueServiceFixture(t *testing.T) (*QueueService, *memory.Store, *memory.ConfigStore, *messaging.NATSEventPublisher) {
	t.Helper()

	publisher, err := messaging.NewNATSEventPublisher(config.NATSConfig{
		URL:      "nats://localhost:4222",
		TestMode: true,
	})
	require.NoError(t, err)
	require.NoError(t, publisher.Connect())

	store := memory.NewStore()
	configStore := memory.NewConfigStore()
	return NewQueueService(store, configStore, publisher), store, configStore, publisher
}

func TestEnqueueDefaultsToMediumPriority(t *testing.T) {
	svc, _, _, _ := newQueueServiceFixture(t)

	item, err := svc.Enqueue(context.Background(), EnqueueRequest{
		SourceType: "receipt",
		SourceID:   "rcpt-1001",
		Operation:  "insert",
		Provider:   "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.PriorityMedium, item.Priority())
	assert.Equal(t, valueobject.ItemStatusPending, item.Status())
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	svc, _, _, _ := newQueueServiceFixture(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, EnqueueRequest{
		SourceType: "receipt",
		SourceID:   "rcpt-1001",
		Operation:  "shred",
		Provider:   "openai",
	})
	assert.Error(t, err)

	_, err = svc.Enqueue(ctx, EnqueueRequest{
		SourceType: "receipt",
		SourceID:   "rcpt-1001",
		Operation:  "insert",
		Priority:   "urgent-ish",
		Provider:   "openai",
	})
	assert.Error(t, err)
}

func TestEnqueueRejectsDuplicateActiveItem(t *testing.T) {
	svc, _, _, _ := newQueueServiceFixture(t)
	ctx := context.Background()

	request := EnqueueRequest{
		SourceType: "receipt",
		SourceID:   "rcpt-1001",
		Operation:  "insert",
		Provider:   "openai",
	}
	_, err := svc.Enqueue(ctx, request)
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, request)
	assert.ErrorIs(t, err, outbound.ErrDuplicateItem)
}

func TestUpdateConfigMutatesAndBumpsVersion(t *testing.T) {
	svc, _, configStore, _ := newQueueServiceFixture(t)
	ctx := context.Background()

	updated, err := svc.UpdateConfig(ctx, ConfigKeyBatchSize, "25", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 25, updated.BatchSize())

	updated, err = svc.UpdateConfig(ctx, ConfigKeyEnabled, "false", "ops@example.com")
	require.NoError(t, err)
	assert.False(t, updated.QueueEnabled())

	stored, err := configStore.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, stored.BatchSize())
	assert.False(t, stored.QueueEnabled())
	assert.Equal(t, updated.Version(), stored.Version())
	assert.Equal(t, "ops@example.com", stored.UpdatedBy())
}

func TestUpdateConfigRejectsBadInputAtomically(t *testing.T) {
	svc, _, configStore, _ := newQueueServiceFixture(t)
	ctx := context.Background()

	before, err := configStore.Load(ctx)
	require.NoError(t, err)

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown key", key: "burst_size", value: "5"},
		{name: "batch size not a number", key: ConfigKeyBatchSize, value: "ten"},
		{name: "batch size out of range", key: ConfigKeyBatchSize, value: "5000"},
		{name: "zero workers", key: ConfigKeyMaxWorkers, value: "0"},
		{name: "enabled not a bool", key: ConfigKeyEnabled, value: "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, updateErr := svc.UpdateConfig(ctx, tc.key, tc.value, "ops@example.com")
			assert.Error(t, updateErr)
		})
	}

	after, err := configStore.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Version(), after.Version())
	assert.Equal(t, before.BatchSize(), after.BatchSize())
}

func TestUpdateConfigRequiresUpdatedBy(t *testing.T) {
	svc, _, _, _ := newQueueServiceFixture(t)

	_, err := svc.UpdateConfig(context.Background(), ConfigKeyEnabled, "true", "")
	assert.Error(t, err)
}

func TestUpdateConfigEmitsChangeEvent(t *testing.T) {
	svc, _, _, publisher := newQueueServiceFixture(t)

	_, err := svc.UpdateConfig(context.Background(), ConfigKeyMaxWorkers, "7", "ops@example.com")
	require.NoError(t, err)

	events := publisher.PublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, outbound.ChangeTableConfig, events[0].Table)
	assert.Equal(t, outbound.ChangeEventUpdate, events[0].EventType)

	var after map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].After, &after))
	assert.InDelta(t, 7, after["max_workers"], 0)
	assert.Equal(t, "ops@example.com", after["updated_by"])
}
