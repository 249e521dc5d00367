package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/application/ratelimit"
	"receiptqueue/internal/application/worker"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/inbound"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
)

// WorkerPoolOptions configures the managed worker pool.
type WorkerPoolOptions struct {
	// WorkerIDPrefix is prepended to generated worker IDs.
	WorkerIDPrefix string

	// Workers is the desired pool size. The effective size is capped by
	// the queue configuration's max worker setting at start time.
	Workers int

	// Worker holds the per-worker tuning shared by every pool member.
	// WorkerID is filled in per instance and must be left empty.
	Worker worker.Options
}

type managedWorker struct {
	worker    *worker.Worker
	cancel    context.CancelFunc
	startedAt time.Time
}

// DefaultWorkerService runs and supervises a pool of queue workers. It
// implements inbound.WorkerService.
type DefaultWorkerService struct {
	opts        WorkerPoolOptions
	claimer     *worker.Claimer
	store       outbound.QueueStore
	registry    outbound.WorkerRegistry
	provider    outbound.EmbeddingProvider
	limiter     *ratelimit.Limiter
	configStore outbound.ConfigStore

	mu      sync.Mutex
	workers map[string]*managedWorker
	wg      sync.WaitGroup
}

// NewDefaultWorkerService creates the pool manager. No workers run until
// Start is called.
func NewDefaultWorkerService(
	opts WorkerPoolOptions,
	claimer *worker.Claimer,
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
	provider outbound.EmbeddingProvider,
	limiter *ratelimit.Limiter,
	configStore outbound.ConfigStore,
) *DefaultWorkerService {
	if opts.WorkerIDPrefix == "" {
		opts.WorkerIDPrefix = "worker"
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	return &DefaultWorkerService{
		opts:        opts,
		claimer:     claimer,
		store:       store,
		registry:    registry,
		provider:    provider,
		limiter:     limiter,
		configStore: configStore,
		workers:     make(map[string]*managedWorker),
	}
}

// Start launches the pool. The desired size is soft-capped by the queue
// configuration's max worker setting as it stands when Start runs.
func (s *DefaultWorkerService) Start(ctx context.Context) error {
	config, err := s.configStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue config: %w", err)
	}

	count := s.opts.Workers
	if limit := config.MaxConcurrentWorkers(); count > limit {
		slogger.Warn(ctx, "Worker count capped by queue config", slogger.Fields2(
			"requested", s.opts.Workers,
			"cap", limit,
		))
		count = limit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) > 0 {
		return entity.NewDomainError("worker pool already started", "POOL_ALREADY_STARTED")
	}

	for i := 0; i < count; i++ {
		if err := s.spawnLocked(ctx); err != nil {
			return err
		}
	}

	slogger.Info(ctx, "Worker pool started", slogger.Field("workers", count))
	return nil
}

// spawnLocked creates and launches one worker. Callers hold s.mu.
func (s *DefaultWorkerService) spawnLocked(ctx context.Context) error {
	opts := s.opts.Worker
	opts.WorkerID = fmt.Sprintf("%s-%s", s.opts.WorkerIDPrefix, uuid.New().String()[:8])

	w, err := worker.New(opts, s.claimer, s.store, s.registry, s.provider, s.limiter)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.workers[w.ID()] = &managedWorker{
		worker:    w,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if runErr := w.Run(runCtx); runErr != nil && runCtx.Err() == nil {
			slogger.Error(runCtx, "Worker exited with error", slogger.Fields2(
				"worker_id", w.ID(),
				"error", runErr.Error(),
			))
		}
		s.mu.Lock()
		delete(s.workers, w.ID())
		s.mu.Unlock()
	}()
	return nil
}

// Stop gracefully stops every worker: running batches finish, claims are
// released, and each worker records a clean registry stop. It returns when
// every worker has exited or ctx expires.
func (s *DefaultWorkerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, m := range s.workers {
		m.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slogger.Info(ctx, "Worker pool stopped", slogger.Fields{})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// StopWorker gracefully stops a single worker by ID.
func (s *DefaultWorkerService) StopWorker(ctx context.Context, workerID string) error {
	s.mu.Lock()
	m, ok := s.workers[workerID]
	s.mu.Unlock()
	if !ok {
		return entity.NewDomainError(
			fmt.Sprintf("unknown worker %q", workerID), "UNKNOWN_WORKER")
	}

	m.cancel()
	select {
	case <-m.worker.Stopped():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop worker %s: %w", workerID, ctx.Err())
	}
}

// Status reports every managed worker. Counters come from the registry,
// so they reflect the last heartbeat rather than the current instant.
func (s *DefaultWorkerService) Status() []inbound.WorkerStatusInfo {
	s.mu.Lock()
	managed := make(map[string]*managedWorker, len(s.workers))
	for id, m := range s.workers {
		managed[id] = m
	}
	s.mu.Unlock()

	now := time.Now()
	infos := make([]inbound.WorkerStatusInfo, 0, len(managed))
	for id, m := range managed {
		info := inbound.WorkerStatusInfo{
			WorkerID: id,
			Running:  true,
			Uptime:   now.Sub(m.startedAt),
		}
		if record, err := s.registry.FindByID(context.Background(), id); err == nil && record != nil {
			info.TasksProcessed = record.TasksProcessed()
			info.ErrorCount = record.ErrorCount()
			info.RateLimitCount = record.RateLimitCount()
		}
		infos = append(infos, info)
	}
	return infos
}

var _ inbound.WorkerService = (*DefaultWorkerService)(nil)
