package service

import (
	"context"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStream struct {
	connected  bool
	subscribed bool
	closed     bool
	events     []outbound.ChangeEvent
}

func (s *stubStream) Connect() error {
	s.connected = true
	return nil
}

func (s *stubStream) Subscribe(ctx context.Context, handler outbound.ChangeEventHandler) error {
	s.subscribed = true
	for _, event := range s.events {
		_ = handler(ctx, event)
	}
	return nil
}

func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

func TestWatchDeliversBufferedEvents(t *testing.T) {
	stream := &stubStream{
		events: []outbound.ChangeEvent{
			{EventID: "e1", EventType: outbound.ChangeEventInsert, Table: outbound.ChangeTableQueueItems},
			{EventID: "e2", EventType: outbound.ChangeEventUpdate, Table: outbound.ChangeTableWorkers},
		},
	}
	svc := NewObserverService(stream, memory.NewStore(), memory.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	go func() {
		// Cancel once both buffered events have been replayed.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := svc.Watch(ctx, func(_ context.Context, event outbound.ChangeEvent) error {
		seen = append(seen, event.EventID)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"e1", "e2"}, seen)
	assert.True(t, stream.connected)
	assert.True(t, stream.subscribed)
	assert.True(t, stream.closed)
}

func TestBackfillSnapshotsActiveState(t *testing.T) {
	store := memory.NewStore()
	registry := memory.NewRegistry()
	svc := NewObserverService(&stubStream{}, store, registry)
	ctx := context.Background()

	seedItems(t, store, 3)
	claimed, err := store.ClaimBatch(ctx, "snap-worker", 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Completed items are counted but not listed; the snapshot carries
	// only work an observer could still see change.
	second, err := store.ClaimBatch(ctx, "snap-worker", 1, nil)
	require.NoError(t, err)
	require.Len(t, second, 1)
	_, err = store.MarkCompleted(ctx, second[0].ID(), 30*time.Millisecond)
	require.NoError(t, err)

	w, err := entity.NewWorker("snap-worker")
	require.NoError(t, err)
	require.NoError(t, registry.Register(ctx, w))

	snapshot, err := svc.Backfill(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	assert.Len(t, snapshot.Items, 2)
	assert.Equal(t, int64(1), snapshot.StatusCount[valueobject.ItemStatusPending])
	assert.Equal(t, int64(1), snapshot.StatusCount[valueobject.ItemStatusProcessing])
	assert.Equal(t, int64(1), snapshot.StatusCount[valueobject.ItemStatusCompleted])

	var sawClaim bool
	for _, item := range snapshot.Items {
		if item.Status == valueobject.ItemStatusProcessing {
			sawClaim = true
			assert.Equal(t, "snap-worker", item.ClaimedBy)
		}
	}
	assert.True(t, sawClaim)

	require.Len(t, snapshot.Workers, 1)
	assert.Equal(t, "snap-worker", snapshot.Workers[0].WorkerID)
	assert.False(t, snapshot.TakenAt.IsZero())
}
