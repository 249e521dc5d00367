package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/port/outbound"
)

// Default maintenance windows.
const (
	// DefaultLivenessThreshold is how stale a heartbeat must be before a
	// worker counts as dead.
	DefaultLivenessThreshold = 90 * time.Second

	// DefaultRequeueGrace is added on top of the liveness threshold before
	// a dead worker's claims are handed back, so a briefly paused worker
	// does not lose in-flight work to a race.
	DefaultRequeueGrace = 30 * time.Second

	// DefaultRetention is how long terminal items are kept before purge.
	DefaultRetention = 7 * 24 * time.Hour
)

// MaintenanceOptions tunes the periodic sweeps.
type MaintenanceOptions struct {
	LivenessThreshold time.Duration
	RequeueGrace      time.Duration
	Retention         time.Duration
}

// SweepReport holds the outcome of one maintenance pass. Each sweep runs
// independently; a failed sweep carries its error while the others still
// report their counts.
type SweepReport struct {
	StaleRequeued    int64
	StaleErr         error
	RateLimitedReset int64
	RateLimitedErr   error
	Purged           int64
	PurgeErr         error
	DeadWorkers      int
}

// Err returns the first sweep error, or nil when all sweeps succeeded.
func (r SweepReport) Err() error {
	for _, err := range []error{r.StaleErr, r.RateLimitedErr, r.PurgeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// MaintenanceService runs the background hygiene sweeps: requeueing work
// stranded by dead workers, waking rate-limited items whose cool-down has
// passed, and purging old terminal items.
type MaintenanceService struct {
	store    outbound.QueueStore
	registry outbound.WorkerRegistry
	opts     MaintenanceOptions
}

// NewMaintenanceService creates a maintenance service with defaults filled
// in for any zero option.
func NewMaintenanceService(
	store outbound.QueueStore,
	registry outbound.WorkerRegistry,
	opts MaintenanceOptions,
) *MaintenanceService {
	if opts.LivenessThreshold <= 0 {
		opts.LivenessThreshold = DefaultLivenessThreshold
	}
	if opts.RequeueGrace <= 0 {
		opts.RequeueGrace = DefaultRequeueGrace
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &MaintenanceService{store: store, registry: registry, opts: opts}
}

// Sweep runs all three sweeps concurrently. One sweep failing never blocks
// the others; the report carries per-sweep counts and errors.
func (s *MaintenanceService) Sweep(ctx context.Context) SweepReport {
	now := time.Now()
	var report SweepReport

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		report.StaleRequeued, report.DeadWorkers, report.StaleErr = s.requeueStaleClaims(groupCtx, now)
		return nil
	})
	group.Go(func() error {
		report.RateLimitedReset, report.RateLimitedErr = s.store.ResetRateLimited(groupCtx, now)
		return nil
	})
	group.Go(func() error {
		report.Purged, report.PurgeErr = s.store.PurgeTerminal(groupCtx, now.Add(-s.opts.Retention))
		return nil
	})
	// Goroutines always return nil so one sweep's failure cannot cancel
	// the shared context out from under the others.
	_ = group.Wait()

	slogger.Info(ctx, "Maintenance sweep finished", slogger.Fields{
		"stale_requeued":     report.StaleRequeued,
		"dead_workers":       report.DeadWorkers,
		"rate_limited_reset": report.RateLimitedReset,
		"purged":             report.Purged,
	})
	return report
}

// requeueStaleClaims finds workers whose heartbeats have gone stale and
// returns their processing items to pending. The requeue cutoff adds a
// grace period past the liveness threshold.
func (s *MaintenanceService) requeueStaleClaims(ctx context.Context, now time.Time) (int64, int, error) {
	dead, err := s.registry.FindDead(ctx, now, s.opts.LivenessThreshold)
	if err != nil {
		return 0, 0, fmt.Errorf("find dead workers: %w", err)
	}
	if len(dead) == 0 {
		return 0, 0, nil
	}

	ids := make([]string, len(dead))
	for i, w := range dead {
		ids[i] = w.WorkerID()
	}

	staleBefore := now.Add(-(s.opts.LivenessThreshold + s.opts.RequeueGrace))
	requeued, err := s.store.RequeueStale(ctx, ids, staleBefore)
	if err != nil {
		return 0, len(dead), fmt.Errorf("requeue stale claims: %w", err)
	}
	if requeued > 0 {
		slogger.Warn(ctx, "Requeued items from dead workers", slogger.Fields2(
			"items", requeued,
			"workers", len(dead),
		))
	}
	return requeued, len(dead), nil
}

// RequeueFailedItems returns up to maxItems failed items with remaining
// retry budget to pending, for operator-driven retries.
func (s *MaintenanceService) RequeueFailedItems(ctx context.Context, maxItems, maxAttempts int) (int64, error) {
	if maxItems <= 0 {
		return 0, nil
	}
	requeued, err := s.store.RequeueFailed(ctx, maxItems, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("requeue failed items: %w", err)
	}
	slogger.Info(ctx, "Requeued failed items", slogger.Field("items", requeued))
	return requeued, nil
}

// Run executes Sweep on the given interval until the context is cancelled.
func (s *MaintenanceService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
