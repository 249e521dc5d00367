package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/application/service"
	"receiptqueue/internal/application/worker"
	"receiptqueue/internal/config"
	"receiptqueue/internal/port/inbound"
	"receiptqueue/internal/port/outbound"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newWorkerCmd creates and returns the worker command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the queue worker pool",
		Long: `Start the worker pool that drains the embedding queue.

Each worker claims batches of pending items in priority order, calls the
embedding provider, and reports outcomes back to the queue. Rate-limit
push-back parks items until the provider's cool-down passes, heartbeats
keep the registry's liveness view current, and a graceful shutdown hands
unfinished claims back to the queue.

Configuration is loaded from config files and environment variables.`,
		Run: func(_ *cobra.Command, _ []string) {
			runWorkerPool()
		},
	}
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newWorkerCmd())
}

func runWorkerPool() {
	cfg := GetConfig()

	slogger.InfoNoCtx("Starting worker pool", slogger.Fields{
		"workers":  cfg.Worker.Count,
		"provider": cfg.Provider.Name,
	})

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() {
		if shutdownErr := meterProvider.Shutdown(context.Background()); shutdownErr != nil {
			slogger.WarnNoCtx("Meter provider shutdown failed", slogger.Field("error", shutdownErr.Error()))
		}
	}()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		slogger.ErrorNoCtx("Failed to create database connection pool", slogger.Fields{"error": err.Error()})
		return
	}
	defer pool.Close()

	publisher := setupEventPublisher(cfg)
	if publisher != nil {
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				slogger.WarnNoCtx("Publisher close failed", slogger.Field("error", closeErr.Error()))
			}
		}()
	}

	workerService, err := createWorkerService(cfg, pool, publisher)
	if err != nil {
		slogger.ErrorNoCtx("Failed to create worker service", slogger.Fields{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerService.Start(ctx); err != nil {
		slogger.ErrorNoCtx("Failed to start worker pool", slogger.Fields{"error": err.Error()})
		return
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
	go func() {
		if runErr := maintenance.Run(ctx, cfg.Maintenance.SweepInterval); runErr != nil && ctx.Err() == nil {
			slogger.ErrorNoCtx("Maintenance loop exited", slogger.Fields{"error": runErr.Error()})
		}
	}()

	waitForShutdownAndStop(cfg, workerService, cancel)
}

// createWorkerService wires the worker pool with all its dependencies.
func createWorkerService(
	cfg *config.Config,
	pool *pgxpool.Pool,
	publisher outbound.EventPublisher,
) (inbound.WorkerService, error) {
	store := setupQueueStore(pool, publisher)
	registry := repository.NewPostgresWorkerRegistry(pool)
	configStore := repository.NewPostgresConfigStore(pool)
	limiter := setupRateLimiter(cfg, pool)

	provider, err := setupProvider(cfg)
	if err != nil {
		return nil, err
	}

	claimer := worker.NewClaimer(store, configStore, limiter)
	return service.NewDefaultWorkerService(
		service.WorkerPoolOptions{
			WorkerIDPrefix: cfg.Provider.Name,
			Workers:        cfg.Worker.Count,
			Worker: worker.Options{
				MaxAttempts:       cfg.Queue.MaxAttempts,
				HeartbeatInterval: cfg.Worker.HeartbeatInterval,
				EmptyBatchBackoff: cfg.Worker.EmptyBatchBackoff,
				MaxBackoff:        cfg.Worker.MaxBackoff,
				ProviderTimeout:   cfg.Provider.Timeout,
				DefaultCooldown:   cfg.Provider.DefaultCooldown,
			},
		},
		claimer, store, registry, provider, limiter, configStore,
	), nil
}

// waitForShutdownAndStop blocks until SIGINT/SIGTERM, then stops the pool
// within the configured shutdown timeout.
func waitForShutdownAndStop(cfg *config.Config, workerService inbound.WorkerService, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	slogger.InfoNoCtx("Shutdown signal received", slogger.Fields{"signal": sig.String()})
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer stopCancel()

	if err := workerService.Stop(stopCtx); err != nil {
		slogger.ErrorNoCtx("Worker pool stop failed", slogger.Fields{"error": err.Error()})
		return
	}
	slogger.InfoNoCtx("Worker pool stopped cleanly", nil)
}
