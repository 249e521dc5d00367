package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/metrics"

	"github.com/spf13/cobra"
)

// newStatsCmd creates and returns the stats command.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print a queue statistics snapshot",
		Long: `Print the current queue statistics as JSON.

The snapshot includes per-status item counts, active and total worker
counts, average processing time, the age of the oldest pending item,
throughput per minute and the composite health score.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context())
		},
	}
}

func runStats(ctx context.Context) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	stats := metrics.NewStatisticsService(
		repository.NewPostgresQueueStore(pool),
		repository.NewPostgresWorkerRegistry(pool),
		cfg.Queue.StaleAfter, cfg.Worker.Count,
		metrics.DefaultStatsCacheTTL,
	)
	defer stats.Stop()

	snapshot, err := stats.QueueStatistics(ctx)
	if err != nil {
		return fmt.Errorf("compute statistics: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newStatsCmd())
}
