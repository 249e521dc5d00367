package cmd

import (
	"fmt"

	"receiptqueue/internal/adapter/outbound/embedding"
	"receiptqueue/internal/adapter/outbound/messaging"
	"receiptqueue/internal/adapter/outbound/queue"
	"receiptqueue/internal/adapter/outbound/repository"
	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/application/ratelimit"
	"receiptqueue/internal/config"
	"receiptqueue/internal/port/outbound"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHost = "localhost"

// setupDatabaseConnection initializes the database pool with defaults.
func setupDatabaseConnection(cfg *config.Config) (*pgxpool.Pool, error) {
	dbConfig := repository.DatabaseConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		Username:       cfg.Database.User,
		Password:       cfg.Database.Password,
		Schema:         "receiptqueue",
		MaxConnections: cfg.Database.MaxConnections,
		SSLMode:        cfg.Database.SSLMode,
	}

	if dbConfig.Host == "" {
		dbConfig.Host = defaultHost
	}
	if dbConfig.Port == 0 {
		dbConfig.Port = 5432
	}
	if dbConfig.MaxConnections == 0 {
		dbConfig.MaxConnections = 10
	}
	if dbConfig.SSLMode == "" {
		dbConfig.SSLMode = "disable"
	}

	return repository.NewDatabaseConnection(dbConfig)
}

// setupEventPublisher connects the NATS publisher and ensures the event
// stream exists. A connection failure is not fatal: publishing is
// best-effort and the queue must keep working without the live channel.
func setupEventPublisher(cfg *config.Config) outbound.EventPublisher {
	publisher, err := messaging.NewNATSEventPublisher(cfg.NATS)
	if err != nil {
		slogger.WarnNoCtx("Live update channel disabled", slogger.Field("error", err.Error()))
		return nil
	}
	if err := publisher.Connect(); err != nil {
		slogger.WarnNoCtx("NATS connection failed, live update channel disabled",
			slogger.Field("error", err.Error()))
		return nil
	}
	if err := publisher.EnsureStream(); err != nil {
		slogger.WarnNoCtx("JetStream stream setup failed, live update channel disabled",
			slogger.Field("error", err.Error()))
		_ = publisher.Close()
		return nil
	}
	return publisher
}

// setupQueueStore builds the durable queue store, wrapped with change
// event publishing when a publisher is available.
func setupQueueStore(pool *pgxpool.Pool, publisher outbound.EventPublisher) outbound.QueueStore {
	store := repository.NewPostgresQueueStore(pool)
	if publisher == nil {
		return store
	}
	return queue.NewPublishingStore(store, publisher)
}

// setupProvider builds the HTTP embedding client from config.
func setupProvider(cfg *config.Config) (*embedding.Client, error) {
	client, err := embedding.NewClient(embedding.ClientConfig{
		Provider:          cfg.Provider.Name,
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

// setupRateLimiter builds the per-provider rate limiter over its durable
// store.
func setupRateLimiter(cfg *config.Config, pool *pgxpool.Pool) *ratelimit.Limiter {
	return ratelimit.NewLimiter(
		repository.NewPostgresRateLimitStore(pool),
		cfg.Provider.WindowDuration,
		cfg.Provider.WindowLimit,
		cfg.Provider.DefaultCooldown,
	)
}
