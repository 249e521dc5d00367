package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/metrics"

	"github.com/spf13/cobra"
)

// newValidateCmd creates and returns the validate command.
func newValidateCmd() *cobra.Command {
	var (
		weightsFile string
		minScore    float64
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the queue consistency validator",
		Long: `Run the consistency validator against the live queue state.

The validator recomputes a fixed set of named checks (status counts,
orphaned claims, terminal immutability, heartbeat freshness, throughput)
against raw store state and reports findings with a weighted score. It
never corrects anything; findings are for operators to act on.

Check weights can be overridden from a YAML file with --weights.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidation(cmd.Context(), weightsFile, minScore)
		},
	}

	cmd.Flags().StringVar(&weightsFile, "weights", "", "YAML file overriding check weights")
	cmd.Flags().Float64Var(&minScore, "min-score", 0.95, "exit non-zero when the score falls below this")
	return cmd
}

func runValidation(ctx context.Context, weightsFile string, minScore float64) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresQueueStore(pool)
	registry := repository.NewPostgresWorkerRegistry(pool)

	stats := metrics.NewStatisticsService(
		store, registry,
		cfg.Queue.StaleAfter, cfg.Worker.Count,
		metrics.DefaultStatsCacheTTL,
	)
	defer stats.Stop()

	validator := metrics.NewConsistencyValidator(store, registry, stats, cfg.Queue.StaleAfter)
	if weightsFile != "" {
		if loadErr := validator.LoadWeights(weightsFile); loadErr != nil {
			return fmt.Errorf("load check weights: %w", loadErr)
		}
	}

	report, err := validator.Validate(ctx)
	if err != nil {
		return fmt.Errorf("run validation: %w", err)
	}

	for _, finding := range report.Findings {
		status := "PASS"
		if !finding.Passed {
			status = "FAIL"
		}
		fmt.Printf("%-4s %-24s expected=%v actual=%v delta=%v\n",
			status, finding.Check, finding.Expected, finding.Actual, finding.Delta)
		if finding.Detail != "" {
			fmt.Printf("     %s\n", finding.Detail)
		}
	}
	fmt.Printf("score: %.3f\n", report.Score)

	if report.Score < minScore {
		fmt.Fprintf(os.Stderr, "score %.3f below threshold %.3f\n", report.Score, minScore)
		return errors.New("consistency validation failed")
	}
	return nil
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newValidateCmd())
}
