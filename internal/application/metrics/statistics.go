package metrics

import (
	"context"
	"fmt"
	"time"

	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultStatsCacheTTL bounds how stale a served statistics snapshot can be.
const DefaultStatsCacheTTL = 5 * time.Second

// throughputWindow is the trailing window for throughput and average
// processing time.
const throughputWindow = 5 * time.Minute

const statsCacheKey = "queue_statistics"

// QueueStatistics is a point-in-time aggregate of queue and worker state.
type QueueStatistics struct {
	StatusCounts          map[valueobject.ItemStatus]int64 `json:"status_counts"`
	ActiveWorkers         int                              `json:"active_workers"`
	TotalWorkers          int                              `json:"total_workers"`
	AverageProcessingTime time.Duration                    `json:"average_processing_time"`
	OldestPendingAge      time.Duration                    `json:"oldest_pending_age"`
	ThroughputPerMinute   float64                          `json:"throughput_per_minute"`
	HealthScore           float64                          `json:"health_score"`
	GeneratedAt           time.Time                        `json:"generated_at"`
}

// StatisticsService serves queue statistics snapshots. Snapshots are
// cached with a short TTL so dashboards polling every second do not turn
// into aggregate queries against the store.
type StatisticsService struct {
	store           outbound.QueueStore
	registry        outbound.WorkerRegistry
	livenessCutoff  time.Duration
	expectedWorkers int
	cache           *ttlcache.Cache[string, *QueueStatistics]
}

// NewStatisticsService creates a statistics service. cacheTTL zero means
// DefaultStatsCacheTTL.
func NewStatisticsService(
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
	livenessCutoff time.Duration,
	expectedWorkers int,
	cacheTTL time.Duration,
) *StatisticsService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultStatsCacheTTL
	}

	cache := ttlcache.New[string, *QueueStatistics](
		ttlcache.WithTTL[string, *QueueStatistics](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *QueueStatistics](),
	)
	go cache.Start()

	return &StatisticsService{
		store:           store,
		registry:        registry,
		livenessCutoff:  livenessCutoff,
		expectedWorkers: expectedWorkers,
		cache:           cache,
	}
}

// QueueStatistics returns the current snapshot, served from cache inside
// the TTL.
func (s *StatisticsService) QueueStatistics(ctx context.Context) (*QueueStatistics, error) {
	if item := s.cache.Get(statsCacheKey); item != nil {
		return item.Value(), nil
	}

	stats, err := s.computeStatistics(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.Set(statsCacheKey, stats, ttlcache.DefaultTTL)
	return stats, nil
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (s *StatisticsService) Invalidate() {
	s.cache.Delete(statsCacheKey)
}

// Stop shuts down the cache janitor.
func (s *StatisticsService) Stop() {
	s.cache.Stop()
}

func (s *StatisticsService) computeStatistics(ctx context.Context) (*QueueStatistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}

	oldestPending, err := s.store.OldestPendingAge(ctx)
	if err != nil {
		return nil, fmt.Errorf("oldest pending age: %w", err)
	}

	avgProcessing, err := s.store.AverageProcessingTime(ctx, throughputWindow)
	if err != nil {
		return nil, fmt.Errorf("average processing time: %w", err)
	}

	completedRecently, err := s.store.CompletedSince(ctx, time.Now().Add(-throughputWindow))
	if err != nil {
		return nil, fmt.Errorf("completed since: %w", err)
	}

	workers, err := s.registry.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("find workers: %w", err)
	}

	now := time.Now()
	active := 0
	for _, worker := range workers {
		if worker.Status() != valueobject.WorkerStatusStopped && worker.IsAlive(now, s.livenessCutoff) {
			active++
		}
	}

	stats := &QueueStatistics{
		StatusCounts:          counts,
		ActiveWorkers:         active,
		TotalWorkers:          len(workers),
		AverageProcessingTime: avgProcessing,
		OldestPendingAge:      oldestPending,
		ThroughputPerMinute:   Throughput(completedRecently, throughputWindow),
		GeneratedAt:           now,
	}
	stats.HealthScore = HealthScore(HealthInputs{
		OldestPendingAge: oldestPending,
		ErrorRate:        1 - SuccessRate(counts[valueobject.ItemStatusCompleted], counts[valueobject.ItemStatusFailed]),
		ActiveWorkers:    active,
		ExpectedWorkers:  s.expectedWorkers,
	})

	return stats, nil
}
