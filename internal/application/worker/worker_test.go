package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts per-source outcomes and records how often each
// source was embedded.
type fakeProvider struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeProvider) Name() string { return "openai" }

func (f *fakeProvider) GenerateEmbedding(
	_ context.Context,
	request outbound.EmbeddingRequest,
) (*outbound.EmbeddingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[request.SourceID]++
	if err, ok := f.fail[request.SourceID]; ok {
		return nil, err
	}
	return &outbound.EmbeddingResult{
		Vector:     []float64{0.1, 0.2},
		Dimensions: 2,
		Model:      "test-model",
		Latency:    time.Millisecond,
	}, nil
}

func (f *fakeProvider) callCount(sourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceID]
}

type workerFixture struct {
	*claimFixture
	registry *memory.Registry
	provider *fakeProvider
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	return &workerFixture{
		claimFixture: newClaimFixture(t),
		registry:     memory.NewRegistry(),
		provider:     newFakeProvider(),
	}
}

func (f *workerFixture) newWorker(t *testing.T, id string) *Worker {
	t.Helper()
	w, err := New(Options{
		WorkerID:          id,
		MaxAttempts:       3,
		HeartbeatInterval: 10 * time.Millisecond,
		EmptyBatchBackoff: 5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		ProviderTimeout:   time.Second,
	}, f.claimer, f.store, f.registry, f.provider, f.limiter)
	require.NoError(t, err)
	return w
}

func (f *workerFixture) waitForStatus(
	t *testing.T,
	status valueobject.ItemStatus,
	want int64,
	timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		counts, err := f.store.CountByStatus(context.Background())
		require.NoError(t, err)
		if counts[status] >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	counts, _ := f.store.CountByStatus(context.Background())
	t.Fatalf("timed out waiting for %d %s items, have %v", want, status, counts)
}

func TestWorkerDrainsQueue(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	}

	w := f.newWorker(t, "worker-1")
	go func() { _ = w.Run(ctx) }()

	f.waitForStatus(t, valueobject.ItemStatusCompleted, 5, 5*time.Second)
	cancel()
	<-w.Stopped()

	record, err := f.registry.FindByID(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, valueobject.WorkerStatusStopped, record.Status())
	assert.Equal(t, int64(5), record.TasksProcessed())
}

func TestWorkerPoolProcessesEachItemExactlyOnce(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := f.configStore.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, config.UpdateBatchSize(5, "test"))
	require.NoError(t, f.configStore.Save(ctx, config))

	priorities := []valueobject.Priority{
		valueobject.PriorityCritical,
		valueobject.PriorityHigh,
		valueobject.PriorityMedium,
		valueobject.PriorityLow,
	}
	sourceIDs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		item := enqueue(t, f.store, priorities[i%len(priorities)], "openai")
		sourceIDs = append(sourceIDs, item.SourceID())
	}

	workers := []*Worker{
		f.newWorker(t, "worker-1"),
		f.newWorker(t, "worker-2"),
		f.newWorker(t, "worker-3"),
	}
	for _, w := range workers {
		go func(w *Worker) { _ = w.Run(ctx) }(w)
	}

	f.waitForStatus(t, valueobject.ItemStatusCompleted, 20, 10*time.Second)
	cancel()
	for _, w := range workers {
		<-w.Stopped()
	}

	for _, sourceID := range sourceIDs {
		assert.Equal(t, 1, f.provider.callCount(sourceID), "source %s embedded more than once", sourceID)
	}

	counts, err := f.store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[valueobject.ItemStatusPending])
	assert.Zero(t, counts[valueobject.ItemStatusProcessing])
}

// claimRecordingStore notes the priority of every claimed item in claim
// order across all workers.
type claimRecordingStore struct {
	outbound.QueueStore
	mu     sync.Mutex
	claims []valueobject.Priority
}

func (s *claimRecordingStore) ClaimBatch(
	ctx context.Context,
	workerID string,
	limit int,
	excludedProviders []string,
) ([]*entity.QueueItem, error) {
	items, err := s.QueueStore.ClaimBatch(ctx, workerID, limit, excludedProviders)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, item := range items {
		s.claims = append(s.claims, item.Priority())
	}
	s.mu.Unlock()
	return items, nil
}

func (s *claimRecordingStore) claimedPriorities() []valueobject.Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]valueobject.Priority(nil), s.claims...)
}

func TestPoolClaimsHighPriorityBeforeOlderMedium(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Small batches force the drain across several claim cycles, so the
	// ordering holds between batches, not just inside one.
	config, err := f.configStore.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, config.UpdateBatchSize(3, "test"))
	require.NoError(t, f.configStore.Save(ctx, config))

	// Medium items first, so every one of them is older than every high
	// item that follows.
	for i := 0; i < 6; i++ {
		enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	}
	for i := 0; i < 6; i++ {
		enqueue(t, f.store, valueobject.PriorityHigh, "openai")
	}

	recorder := &claimRecordingStore{QueueStore: f.store}
	claimer := NewClaimer(recorder, f.configStore, f.limiter)

	workers := make([]*Worker, 0, 3)
	for _, id := range []string{"order-worker-1", "order-worker-2", "order-worker-3"} {
		w, err := New(Options{
			WorkerID:          id,
			MaxAttempts:       3,
			HeartbeatInterval: 10 * time.Millisecond,
			EmptyBatchBackoff: 5 * time.Millisecond,
			MaxBackoff:        20 * time.Millisecond,
			ProviderTimeout:   time.Second,
		}, claimer, recorder, f.registry, f.provider, f.limiter)
		require.NoError(t, err)
		workers = append(workers, w)
	}
	for _, w := range workers {
		go func(w *Worker) { _ = w.Run(ctx) }(w)
	}

	f.waitForStatus(t, valueobject.ItemStatusCompleted, 12, 10*time.Second)
	cancel()
	for _, w := range workers {
		<-w.Stopped()
	}

	claimed := recorder.claimedPriorities()
	require.Len(t, claimed, 12)

	lastHigh, firstMedium := -1, len(claimed)
	for i, priority := range claimed {
		switch priority {
		case valueobject.PriorityHigh:
			lastHigh = i
		case valueobject.PriorityMedium:
			if i < firstMedium {
				firstMedium = i
			}
		}
	}
	assert.Less(t, lastHigh, firstMedium,
		"claimed a medium item at %d before the last high item at %d", firstMedium, lastHigh)
}

func TestWorkerRateLimitRoundTrip(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item := enqueue(t, f.store, valueobject.PriorityHigh, "openai")
	f.provider.mu.Lock()
	f.provider.fail[item.SourceID()] = &outbound.RateLimitError{
		Provider:   "openai",
		RetryAfter: time.Minute,
	}
	f.provider.mu.Unlock()

	w := f.newWorker(t, "worker-1")
	go func() { _ = w.Run(ctx) }()

	f.waitForStatus(t, valueobject.ItemStatusRateLimited, 1, 5*time.Second)
	cancel()
	<-w.Stopped()

	parked, err := f.store.FindByID(context.Background(), item.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.ItemStatusRateLimited, parked.Status())
	require.NotNil(t, parked.RateLimitedUntil())
	assert.Zero(t, parked.Attempts(), "rate limit must not consume the retry budget")

	remaining, err := f.limiter.CooldownRemaining(context.Background(), "openai")
	require.NoError(t, err)
	assert.Greater(t, remaining, 50*time.Second)

	// After the cool-down elapses the maintenance reset hands the item
	// back; simulate the clock by resetting at a future instant.
	reset, err := f.store.ResetRateLimited(context.Background(), time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	requeued, err := f.store.FindByID(context.Background(), item.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.ItemStatusPending, requeued.Status())
}

func TestWorkerMarksPermanentFailureTerminal(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item := enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	f.provider.mu.Lock()
	f.provider.fail[item.SourceID()] = &outbound.PermanentError{
		Provider:   "openai",
		StatusCode: 400,
		Message:    "input rejected",
	}
	f.provider.mu.Unlock()

	w := f.newWorker(t, "worker-1")
	go func() { _ = w.Run(ctx) }()

	f.waitForStatus(t, valueobject.ItemStatusFailed, 1, 5*time.Second)
	cancel()
	<-w.Stopped()

	failed, err := f.store.FindByID(context.Background(), item.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.ItemStatusFailed, failed.Status())
	require.NotNil(t, failed.LastError())
	assert.Contains(t, *failed.LastError(), "input rejected")
}

func TestWorkerLeavesTransientFailureForRequeue(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item := enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	f.provider.mu.Lock()
	f.provider.fail[item.SourceID()] = &outbound.ServerError{
		Provider:   "openai",
		StatusCode: 503,
	}
	f.provider.mu.Unlock()

	w := f.newWorker(t, "worker-1")
	go func() { _ = w.Run(ctx) }()

	// First attempt fails transiently; the item stays claimed until the
	// stale sweep returns it.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && f.provider.callCount(item.SourceID()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Positive(t, f.provider.callCount(item.SourceID()))
	cancel()
	<-w.Stopped()

	// Shutdown releases the claim, so the item is pending again with its
	// attempt preserved.
	released, err := f.store.FindByID(context.Background(), item.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.ItemStatusPending, released.Status())
	assert.Equal(t, 1, released.Attempts())
}

func TestWorkerShutdownReleasesClaims(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	}
	claimed, err := f.store.ClaimBatch(ctx, "worker-9", 3, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	released, err := f.store.ReleaseClaims(ctx, "worker-9")
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)

	counts, err := f.store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[valueobject.ItemStatusPending])
}

func TestIdempotentCompletionReports(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	item := enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	claimed, err := f.store.ClaimBatch(ctx, "worker-1", 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	applied, err := f.store.MarkCompleted(ctx, item.ID(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replayed completion report changes nothing.
	applied, err = f.store.MarkCompleted(ctx, item.ID(), 999*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, applied)

	final, err := f.store.FindByID(ctx, item.ID())
	require.NoError(t, err)
	require.NotNil(t, final.ProcessingTime())
	assert.Equal(t, 100*time.Millisecond, *final.ProcessingTime())
}

func TestStaleClaimRequeueViaClockManipulation(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	enqueue(t, f.store, valueobject.PriorityMedium, "openai")
	claimed, err := f.store.ClaimBatch(ctx, "worker-crashed", 1, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A cutoff in the past leaves fresh claims alone.
	requeued, err := f.store.RequeueStale(ctx, []string{"worker-crashed"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, requeued)

	// A cutoff after the claim treats it as stale.
	requeued, err = f.store.RequeueStale(ctx, []string{"worker-crashed"}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	item, err := f.store.FindByID(ctx, claimed[0].ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.ItemStatusPending, item.Status())
	assert.Equal(t, 1, item.Attempts(), "requeue preserves the attempt count")
}
