package cmd

import (
	"context"
	"fmt"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/service"

	"github.com/spf13/cobra"
)

// newMaintenanceCmd creates and returns the maintenance command.
func newMaintenanceCmd() *cobra.Command {
	var requeueFailed int

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run one maintenance sweep",
		Long: `Run one maintenance pass over the queue.

The sweep requeues items stranded by workers whose heartbeats have gone
stale, returns rate-limited items whose cool-down has passed to pending,
and purges terminal items older than the retention window. The three
sweeps run independently; one failing never blocks the others.

With --requeue-failed N, up to N failed items that still have retry budget
are additionally returned to pending.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMaintenanceSweep(cmd.Context(), requeueFailed)
		},
	}

	cmd.Flags().IntVar(&requeueFailed, "requeue-failed", 0, "also requeue up to N failed items with retry budget")
	return cmd
}

func runMaintenanceSweep(ctx context.Context, requeueFailed int) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	publisher := setupEventPublisher(cfg)
	if publisher != nil {
		defer publisher.Close()
	}

	maintenance := service.NewMaintenanceService(
		setupQueueStore(pool, publisher),
		repository.NewPostgresWorkerRegistry(pool),
		service.MaintenanceOptions{
			LivenessThreshold: cfg.Queue.StaleAfter,
			RequeueGrace:      cfg.Queue.GracePeriod,
			Retention:         cfg.Queue.Retention,
		},
	)

	report := maintenance.Sweep(ctx)
	fmt.Printf("stale requeued:     %d (dead workers: %d)\n", report.StaleRequeued, report.DeadWorkers)
	fmt.Printf("rate limits reset:  %d\n", report.RateLimitedReset)
	fmt.Printf("purged:             %d\n", report.Purged)

	if requeueFailed > 0 {
		count, requeueErr := maintenance.RequeueFailedItems(ctx, requeueFailed, cfg.Queue.MaxAttempts)
		if requeueErr != nil {
			return requeueErr
		}
		fmt.Printf("failed requeued:    %d\n", count)
	}

	return report.Err()
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newMaintenanceCmd())
}
