package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/application/ratelimit"
	"receiptqueue/internal/application/worker"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return "openai" }

func (p *stubProvider) GenerateEmbedding(_ context.Context, _ outbound.EmbeddingRequest) (*outbound.EmbeddingResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &outbound.EmbeddingResult{
		Vector:     []float64{0.1, 0.2},
		Dimensions: 2,
		Model:      "text-embedding-3-small",
	}, nil
}

type poolFixture struct {
	service  *DefaultWorkerService
	store    *memory.Store
	registry *memory.Registry
	provider *stubProvider
}

func newPoolFixture(t *testing.T, poolSize int) *poolFixture {
	t.Helper()

	store := memory.NewStore()
	registry := memory.NewRegistry()
	configStore := memory.NewConfigStore()
	limiter := ratelimit.NewLimiter(memory.NewRateLimitStore(), time.Minute, 0, time.Minute)
	claimer := worker.NewClaimer(store, configStore, limiter)
	provider := &stubProvider{}

	svc := NewDefaultWorkerService(
		WorkerPoolOptions{
			WorkerIDPrefix: "pool-test",
			Workers:        poolSize,
			Worker: worker.Options{
				HeartbeatInterval: 10 * time.Millisecond,
				EmptyBatchBackoff: 5 * time.Millisecond,
				MaxBackoff:        20 * time.Millisecond,
			},
		},
		claimer, store, registry, provider, limiter, configStore,
	)
	return &poolFixture{service: svc, store: store, registry: registry, provider: provider}
}

func (f *poolFixture) waitForDrain(t *testing.T, total int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := f.store.CountByStatus(context.Background())
		require.NoError(t, err)
		if counts[valueobject.ItemStatusCompleted] == total {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue did not drain %d items in time", total)
}

func TestPoolStartsCappedByConfig(t *testing.T) {
	fixture := newPoolFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, fixture.service.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, fixture.service.Stop(stopCtx))
	}()

	// Default config caps concurrent workers below the requested ten.
	status := fixture.service.Status()
	assert.Less(t, len(status), 10)
	assert.NotEmpty(t, status)
	for _, info := range status {
		assert.True(t, info.Running)
		assert.Contains(t, info.WorkerID, "pool-test-")
	}
}

func TestPoolRejectsDoubleStart(t *testing.T) {
	fixture := newPoolFixture(t, 2)
	ctx := context.Background()

	require.NoError(t, fixture.service.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = fixture.service.Stop(stopCtx)
	}()

	assert.Error(t, fixture.service.Start(ctx))
}

func TestPoolDrainsQueueAndStopsCleanly(t *testing.T) {
	fixture := newPoolFixture(t, 2)
	ctx := context.Background()

	seedItems(t, fixture.store, 8)
	require.NoError(t, fixture.service.Start(ctx))
	fixture.waitForDrain(t, 8)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fixture.service.Stop(stopCtx))

	assert.Empty(t, fixture.service.Status())

	workers, err := fixture.registry.FindAll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, workers)
	var processed int64
	for _, w := range workers {
		assert.Equal(t, valueobject.WorkerStatusStopped, w.Status())
		processed += w.TasksProcessed()
	}
	assert.Equal(t, int64(8), processed)
}

func TestStopWorkerRemovesSingleMember(t *testing.T) {
	fixture := newPoolFixture(t, 3)
	ctx := context.Background()

	require.NoError(t, fixture.service.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = fixture.service.Stop(stopCtx)
	}()

	status := fixture.service.Status()
	require.Len(t, status, 3)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fixture.service.StopWorker(stopCtx, status[0].WorkerID))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fixture.service.Status()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, fixture.service.Status(), 2)

	record, err := fixture.registry.FindByID(ctx, status[0].WorkerID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, valueobject.WorkerStatusStopped, record.Status())
}

func TestStopWorkerUnknownID(t *testing.T) {
	fixture := newPoolFixture(t, 1)

	err := fixture.service.StopWorker(context.Background(), "no-such-worker")
	assert.Error(t, err)
}
