package cmd

import (
	"context"
	"fmt"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/service"

	"github.com/spf13/cobra"
)

// newConfigCmd creates and returns the queue-config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue-config",
		Short: "Inspect and update the runtime queue configuration",
		Long: `Inspect and update the queue's runtime configuration.

The configuration is versioned: every update bumps the version and emits a
change event on the live update channel, so running workers pick up batch
size, worker cap and pause changes on their next claim cycle without a
restart.`,
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current queue configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigGet(cmd.Context())
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var updatedBy string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one queue configuration key",
		Long: `Update one queue configuration key.

Valid keys: batch_size (1..1000), max_workers (>= 1), enabled (bool).
Unknown keys and invalid values are rejected without changing anything.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd.Context(), args[0], args[1], updatedBy)
		},
	}

	cmd.Flags().StringVar(&updatedBy, "updated-by", "", "who is making this change (required)")
	_ = cmd.MarkFlagRequired("updated-by")
	return cmd
}

func runConfigGet(ctx context.Context) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	current, err := repository.NewPostgresConfigStore(pool).Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue config: %w", err)
	}

	fmt.Printf("batch_size:  %d\n", current.BatchSize())
	fmt.Printf("max_workers: %d\n", current.MaxConcurrentWorkers())
	fmt.Printf("enabled:     %t\n", current.QueueEnabled())
	fmt.Printf("version:     %d (updated by %s at %s)\n",
		current.Version(), current.UpdatedBy(), current.UpdatedAt().Format("2006-01-02 15:04:05"))
	return nil
}

func runConfigSet(ctx context.Context, key, value, updatedBy string) error {
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

	svc := service.NewQueueService(
		setupQueueStore(pool, publisher),
		repository.NewPostgresConfigStore(pool),
		publisher,
	)

	updated, err := svc.UpdateConfig(ctx, key, value, updatedBy)
	if err != nil {
		return err
	}

	fmt.Printf("%s = %s (version %d)\n", key, value, updated.Version())
	return nil
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newConfigCmd())
}
