package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"receiptqueue/internal/application/common/retry"
	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/application/ratelimit"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxConsecutiveClaimFailures is the cutoff after which the worker treats
// the store as unreachable and stops.
const maxConsecutiveClaimFailures = 5

// Options configures one worker instance.
type Options struct {
	WorkerID          string
	MaxAttempts       int
	HeartbeatInterval time.Duration
	EmptyBatchBackoff time.Duration
	MaxBackoff        time.Duration
	ProviderTimeout   time.Duration
	DefaultCooldown   time.Duration
}

// Worker drains the queue: claim a batch, embed each item, report the
// outcome. One Worker runs one loop; the pool size is managed above it.
type Worker struct {
	opts     Options
	claimer  *Claimer
	store    outbound.QueueStore
	registry outbound.WorkerRegistry
	provider outbound.EmbeddingProvider
	limiter  *ratelimit.Limiter
	backoff  *retry.RetryExecutor

	// Heartbeat deltas folded since the last tick.
	tasksDelta          atomic.Int64
	errorsDelta         atomic.Int64
	rateLimitDelta      atomic.Int64
	processingTimeDelta atomic.Int64 // nanoseconds
	busy                atomic.Bool

	processedCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
	rateLimitCounter metric.Int64Counter

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a worker. The backoff executor drives the empty-batch pause
// so idle workers poll with jitter instead of in lockstep.
func New(
	opts Options,
	claimer *Claimer,
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
	provider outbound.EmbeddingProvider,
	limiter *ratelimit.Limiter,
) (*Worker, error) {
	if opts.WorkerID == "" {
		return nil, errors.New("worker ID cannot be empty")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.EmptyBatchBackoff <= 0 {
		opts.EmptyBatchBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = ratelimit.DefaultCooldown
	}

	w := &Worker{
		opts:     opts,
		claimer:  claimer,
		store:    store,
		registry: registry,
		provider: provider,
		limiter:  limiter,
		backoff: retry.NewRetryExecutor(&retry.RetryConfig{
			InitialDelay:  opts.EmptyBatchBackoff,
			MaxDelay:      opts.MaxBackoff,
			BackoffFactor: 2.0,
			Jitter:        true,
		}),
		stopped: make(chan struct{}),
	}

	meter := otel.Meter("receiptqueue/worker")
	var err error
	if w.processedCounter, err = meter.Int64Counter("queue_items_processed_total"); err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}
	if w.errorCounter, err = meter.Int64Counter("queue_items_errors_total"); err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	if w.rateLimitCounter, err = meter.Int64Counter("queue_items_rate_limited_total"); err != nil {
		return nil, fmt.Errorf("create rate limit counter: %w", err)
	}

	return w, nil
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.opts.WorkerID
}

// Run registers the worker and drives the claim loop until the context is
// cancelled. On exit unfinished claims are handed back and the registry
// records a clean stop.
func (w *Worker) Run(ctx context.Context) error {
	record, err := entity.NewWorker(w.opts.WorkerID)
	if err != nil {
		return err
	}
	if err := w.registry.Register(ctx, record); err != nil {
		return fmt.Errorf("register worker %s: %w", w.opts.WorkerID, err)
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	var heartbeatDone sync.WaitGroup
	heartbeatDone.Add(1)
	go func() {
		defer heartbeatDone.Done()
		w.heartbeatLoop(heartbeatCtx)
	}()

	defer func() {
		cancelHeartbeat()
		heartbeatDone.Wait()
		w.shutdown()
		close(w.stopped)
	}()

	slogger.Info(ctx, "Worker started", slogger.Field("worker_id", w.opts.WorkerID))

	emptyStreak := 0
	claimFailures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		items, err := w.claimer.Claim(ctx, w.opts.WorkerID, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			claimFailures++
			slogger.ErrorWithError(ctx, err, "Claim failed", slogger.Fields2(
				"worker_id", w.opts.WorkerID,
				"consecutive_failures", claimFailures,
			))
			if claimFailures >= maxConsecutiveClaimFailures {
				return fmt.Errorf("store unreachable after %d claim attempts: %w", claimFailures, err)
			}
			if !w.sleep(ctx, w.backoff.BackoffDelay(claimFailures)) {
				return nil
			}
			continue
		}
		claimFailures = 0

		if len(items) == 0 {
			emptyStreak++
			if !w.sleep(ctx, w.backoff.BackoffDelay(emptyStreak)) {
				return nil
			}
			continue
		}
		emptyStreak = 0

		w.busy.Store(true)
		for _, item := range items {
			// Finish the in-flight batch even when stopping; anything
			// unprocessed is released in shutdown.
			if ctx.Err() != nil {
				break
			}
			w.processItem(ctx, item)
		}
		w.busy.Store(false)
	}
}

// Stopped is closed once Run has fully shut down.
func (w *Worker) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *Worker) processItem(ctx context.Context, item *entity.QueueItem) {
	providerCtx, cancel := context.WithTimeout(ctx, w.opts.ProviderTimeout)
	defer cancel()

	started := time.Now()
	_, err := w.provider.GenerateEmbedding(providerCtx, outbound.EmbeddingRequest{
		SourceType: item.SourceType(),
		SourceID:   item.SourceID(),
		Content:    fmt.Sprintf("%s:%s", item.SourceType(), item.SourceID()),
	})
	elapsed := time.Since(started)

	if recordErr := w.limiter.RecordRequests(ctx, item.Provider(), 1); recordErr != nil {
		slogger.Warn(ctx, "Failed to record provider request", slogger.Fields2(
			"provider", item.Provider(),
			"error", recordErr.Error(),
		))
	}

	switch {
	case err == nil:
		w.completeItem(ctx, item, elapsed)
	default:
		if retryAfter, isRateLimit := outbound.IsRateLimit(err); isRateLimit {
			w.rateLimitItem(ctx, item, retryAfter)
			return
		}
		w.failItem(ctx, item, err)
	}
}

func (w *Worker) completeItem(ctx context.Context, item *entity.QueueItem, elapsed time.Duration) {
	applied, err := w.store.MarkCompleted(ctx, item.ID(), elapsed)
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to mark item completed", slogger.Field("item_id", item.ID()))
		return
	}
	if !applied {
		return
	}

	w.tasksDelta.Add(1)
	w.processingTimeDelta.Add(int64(elapsed))
	w.processedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker_id", w.opts.WorkerID),
		attribute.String("provider", item.Provider()),
	))
}

func (w *Worker) rateLimitItem(ctx context.Context, item *entity.QueueItem, retryAfter time.Duration) {
	cooldown := retryAfter
	if cooldown <= 0 {
		cooldown = w.opts.DefaultCooldown
	}

	if err := w.limiter.ReportRateLimit(ctx, item.Provider(), retryAfter); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to report rate limit", slogger.Field("provider", item.Provider()))
	}

	applied, err := w.store.MarkRateLimited(ctx, item.ID(), time.Now().Add(cooldown))
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to park rate limited item", slogger.Field("item_id", item.ID()))
		return
	}
	if !applied {
		return
	}

	w.rateLimitDelta.Add(1)
	w.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker_id", w.opts.WorkerID),
		attribute.String("provider", item.Provider()),
	))
}

func (w *Worker) failItem(ctx context.Context, item *entity.QueueItem, cause error) {
	w.errorsDelta.Add(1)
	w.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker_id", w.opts.WorkerID),
		attribute.String("provider", item.Provider()),
	))

	// Attempts below the cutoff stay claimed; the stale-claim sweep hands
	// them back for another try once this worker's claim ages out. Only
	// exhausted items become terminal failures.
	if item.Attempts() < w.opts.MaxAttempts && outbound.IsRetryable(cause) {
		slogger.Warn(ctx, "Item failed, leaving for requeue", slogger.Fields3(
			"item_id", item.ID(),
			"attempts", item.Attempts(),
			"error", cause.Error(),
		))
		return
	}

	applied, err := w.store.MarkFailed(ctx, item.ID(), cause.Error())
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to mark item failed", slogger.Field("item_id", item.ID()))
		return
	}
	if applied {
		slogger.Error(ctx, "Item failed terminally", slogger.Fields3(
			"item_id", item.ID(),
			"attempts", item.Attempts(),
			"error", cause.Error(),
		))
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	status := valueobject.WorkerStatusIdle
	if w.busy.Load() {
		status = valueobject.WorkerStatusActive
	}

	update := outbound.HeartbeatUpdate{
		Status:              status,
		TasksDelta:          w.tasksDelta.Swap(0),
		ErrorsDelta:         w.errorsDelta.Swap(0),
		RateLimitDelta:      w.rateLimitDelta.Swap(0),
		ProcessingTimeDelta: time.Duration(w.processingTimeDelta.Swap(0)),
	}

	if err := w.registry.Heartbeat(ctx, w.opts.WorkerID, update); err != nil {
		slogger.Warn(ctx, "Heartbeat failed", slogger.Fields2(
			"worker_id", w.opts.WorkerID,
			"error", err.Error(),
		))
		// Hand the deltas back so the next tick carries them.
		w.tasksDelta.Add(update.TasksDelta)
		w.errorsDelta.Add(update.ErrorsDelta)
		w.rateLimitDelta.Add(update.RateLimitDelta)
		w.processingTimeDelta.Add(int64(update.ProcessingTimeDelta))
	}
}

// shutdown hands back unfinished claims and records the stop. Uses a fresh
// context because the run context is already cancelled.
func (w *Worker) shutdown() {
	w.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		released, err := w.store.ReleaseClaims(ctx, w.opts.WorkerID)
		if err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to release claims on shutdown",
				slogger.Field("worker_id", w.opts.WorkerID))
		} else if released > 0 {
			slogger.Info(ctx, "Released unfinished claims", slogger.Fields2(
				"worker_id", w.opts.WorkerID,
				"released", released,
			))
		}

		w.sendHeartbeat(ctx)
		if err := w.registry.MarkStopped(ctx, w.opts.WorkerID); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to mark worker stopped",
				slogger.Field("worker_id", w.opts.WorkerID))
		}

		slogger.InfoNoCtx("Worker stopped", slogger.Field("worker_id", w.opts.WorkerID))
	})
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
