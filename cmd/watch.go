package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"receiptqueue/internal/adapter/outbound/messaging"
	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/service"
	"receiptqueue/internal/port/outbound"

	"github.com/spf13/cobra"
)

// newWatchCmd creates and returns the watch command.
func newWatchCmd() *cobra.Command {
	var (
		durable  string
		backfill bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail the live change-event stream",
		Long: `Tail the queue's live change-event stream.

Each queue item, worker and configuration change is printed as one JSON
line. The durable consumer name makes delivery resumable: reconnecting
with the same name continues from the last acknowledged event. With
--backfill a snapshot of the current queue state is printed first so a
fresh observer starts from a known baseline.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWatch(durable, backfill)
		},
	}

	cmd.Flags().StringVar(&durable, "durable", "receiptqueue-watch", "durable consumer name")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "print a state snapshot before tailing")
	return cmd
}

func runWatch(durable string, backfill bool) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	subscriber, err := messaging.NewNATSEventSubscriber(cfg.NATS, durable)
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}

	observer := service.NewObserverService(
		subscriber,
		repository.NewPostgresQueueStore(pool),
		repository.NewPostgresWorkerRegistry(pool),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	encoder := json.NewEncoder(os.Stdout)
	if backfill {
		snapshot, backfillErr := observer.Backfill(ctx)
		if backfillErr != nil {
			return fmt.Errorf("backfill snapshot: %w", backfillErr)
		}
		if encodeErr := encoder.Encode(snapshot); encodeErr != nil {
			return encodeErr
		}
	}

	err = observer.Watch(ctx, func(_ context.Context, event outbound.ChangeEvent) error {
		return encoder.Encode(event)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newWatchCmd())
}
