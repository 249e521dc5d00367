package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLiveness = 90 * time.Second

func enqueueItems(t *testing.T, store *memory.Store, n int) []*entity.QueueItem {
	t.Helper()
	ctx := context.Background()
	items := make([]*entity.QueueItem, 0, n)
	for i := 0; i < n; i++ {
		item, err := entity.NewQueueItem(
			"receipt", "r-"+uuid.NewString(),
			valueobject.OperationInsert, valueobject.PriorityMedium, "openai",
		)
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(ctx, item))
		items = append(items, item)
	}
	return items
}

func newValidatorFixture(t *testing.T) (*memory.Store, *memory.Registry, *StatisticsService, *ConsistencyValidator) {
	t.Helper()
	store := memory.NewStore()
	registry := memory.NewRegistry()
	stats := NewStatisticsService(store, registry, testLiveness, 3, time.Minute)
	t.Cleanup(stats.Stop)
	validator := NewConsistencyValidator(store, registry, stats, testLiveness)
	return store, registry, stats, validator
}

func TestValidatorCleanStateScoresPerfect(t *testing.T) {
	store, registry, _, validator := newValidatorFixture(t)
	ctx := context.Background()

	enqueueItems(t, store, 10)
	worker, err := entity.NewWorker("worker-1")
	require.NoError(t, err)
	require.NoError(t, registry.Register(ctx, worker))

	report, err := validator.Validate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Score, 0.001)
	require.Len(t, report.Findings, 5)
	for _, finding := range report.Findings {
		assert.True(t, finding.Passed, "check %s should pass", finding.Check)
	}
}

func TestValidatorDetectsInjectedCountDrift(t *testing.T) {
	store, _, stats, validator := newValidatorFixture(t)
	ctx := context.Background()

	enqueueItems(t, store, 20)

	// Pin the cached aggregate, then grow raw state by 10%.
	_, err := stats.QueueStatistics(ctx)
	require.NoError(t, err)
	enqueueItems(t, store, 2)

	report, err := validator.Validate(ctx)
	require.NoError(t, err)

	var statusFinding *Finding
	for i := range report.Findings {
		if report.Findings[i].Check == CheckStatusCounts {
			statusFinding = &report.Findings[i]
		}
	}
	require.NotNil(t, statusFinding)
	assert.False(t, statusFinding.Passed)
	assert.InDelta(t, 2.0, statusFinding.Delta, 0.001)
	assert.Less(t, report.Score, 0.95)
}

func TestValidatorDetectsClaimedByOrphans(t *testing.T) {
	store, _, _, validator := newValidatorFixture(t)
	ctx := context.Background()

	enqueueItems(t, store, 3)
	claimed, err := store.ClaimBatch(ctx, "ghost-worker", 3, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	// ghost-worker never registered, so every claim is an orphan.
	report, err := validator.Validate(ctx)
	require.NoError(t, err)

	for _, finding := range report.Findings {
		if finding.Check == CheckClaimedByOrphans {
			assert.False(t, finding.Passed)
			assert.InDelta(t, 3.0, finding.Actual, 0.001)
		}
	}
	assert.Less(t, report.Score, 1.0)
}

func TestValidatorDetectsStaleHeartbeat(t *testing.T) {
	_, registry, _, validator := newValidatorFixture(t)
	ctx := context.Background()

	stale := entity.RestoreWorker(
		"worker-stale", valueobject.WorkerStatusActive,
		time.Now().Add(-10*time.Minute),
		0, 0, 0, 0,
		time.Now().Add(-time.Hour),
	)
	require.NoError(t, registry.Register(ctx, stale))

	report, err := validator.Validate(ctx)
	require.NoError(t, err)

	for _, finding := range report.Findings {
		if finding.Check == CheckHeartbeatFreshness {
			assert.False(t, finding.Passed)
		}
	}
}

func TestValidatorNeverMutatesState(t *testing.T) {
	store, _, _, validator := newValidatorFixture(t)
	ctx := context.Background()

	items := enqueueItems(t, store, 2)
	_, err := store.ClaimBatch(ctx, "ghost", 2, nil)
	require.NoError(t, err)

	_, err = validator.Validate(ctx)
	require.NoError(t, err)

	for _, item := range items {
		found, err := store.FindByID(ctx, item.ID())
		require.NoError(t, err)
		assert.Equal(t, valueobject.ItemStatusProcessing, found.Status())
	}
}

func TestValidatorLoadWeights(t *testing.T) {
	_, _, _, validator := newValidatorFixture(t)

	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("status_counts: 0.9\nthroughput_recompute: 0.1\n"), 0o600))
	require.NoError(t, validator.LoadWeights(path))
	assert.InDelta(t, 0.9, validator.weights[CheckStatusCounts], 0.001)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("no_such_check: 0.5\n"), 0o600))
	err := validator.LoadWeights(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown check")
}

func TestStatisticsServiceCachesSnapshot(t *testing.T) {
	store := memory.NewStore()
	registry := memory.NewRegistry()
	stats := NewStatisticsService(store, registry, testLiveness, 3, time.Minute)
	t.Cleanup(stats.Stop)
	ctx := context.Background()

	enqueueItems(t, store, 5)
	first, err := stats.QueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.StatusCounts[valueobject.ItemStatusPending])

	enqueueItems(t, store, 5)
	cached, err := stats.QueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cached.StatusCounts[valueobject.ItemStatusPending])

	stats.Invalidate()
	fresh, err := stats.QueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), fresh.StatusCounts[valueobject.ItemStatusPending])
}

func TestStatisticsServiceCountsActiveWorkers(t *testing.T) {
	store := memory.NewStore()
	registry := memory.NewRegistry()
	stats := NewStatisticsService(store, registry, testLiveness, 2, time.Millisecond)
	t.Cleanup(stats.Stop)
	ctx := context.Background()

	alive, err := entity.NewWorker("worker-alive")
	require.NoError(t, err)
	require.NoError(t, registry.Register(ctx, alive))
	require.NoError(t, registry.Heartbeat(ctx, "worker-alive", outbound.HeartbeatUpdate{
		Status: valueobject.WorkerStatusActive,
	}))

	dead := entity.RestoreWorker(
		"worker-dead", valueobject.WorkerStatusActive,
		time.Now().Add(-time.Hour),
		0, 0, 0, 0,
		time.Now().Add(-time.Hour),
	)
	require.NoError(t, registry.Register(ctx, dead))

	time.Sleep(5 * time.Millisecond)
	snapshot, err := stats.QueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.TotalWorkers)
	assert.Equal(t, 1, snapshot.ActiveWorkers)
}
