package cmd

import (
	"context"
	"errors"
	"fmt"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/service"
	"receiptqueue/internal/port/outbound"

	"github.com/spf13/cobra"
)

// newEnqueueCmd creates and returns the enqueue command.
func newEnqueueCmd() *cobra.Command {
	var request service.EnqueueRequest

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit one work item to the queue",
		Long: `Submit one embedding work item to the queue.

The (source-type, source-id, operation) tuple identifies the work; a
duplicate of an item that is still pending or processing is rejected so
the same receipt is never embedded twice concurrently.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnqueue(cmd.Context(), request)
		},
	}

	cmd.Flags().StringVar(&request.SourceType, "source-type", "receipt", "source document type")
	cmd.Flags().StringVar(&request.SourceID, "source-id", "", "source document identifier")
	cmd.Flags().StringVar(&request.Operation, "operation", "insert", "operation (insert, update, delete)")
	cmd.Flags().StringVar(&request.Priority, "priority", "", "priority (critical, high, medium, low; default medium)")
	cmd.Flags().StringVar(&request.Provider, "provider", "", "embedding provider (default from config)")
	_ = cmd.MarkFlagRequired("source-id")
	return cmd
}

func runEnqueue(ctx context.Context, request service.EnqueueRequest) error {
	cfg := GetConfig()
	if request.Provider == "" {
		request.Provider = cfg.Provider.Name
	}

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

	item, err := svc.Enqueue(ctx, request)
	if err != nil {
		if errors.Is(err, outbound.ErrDuplicateItem) {
			return fmt.Errorf("item already queued for %s/%s", request.SourceType, request.SourceID)
		}
		return err
	}

	fmt.Printf("enqueued %s (priority %s)\n", item.ID(), item.Priority())
	return nil
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newEnqueueCmd())
}
