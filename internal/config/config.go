package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Worker      WorkerConfig      `mapstructure:"worker"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count             int           `mapstructure:"count"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessThreshold time.Duration `mapstructure:"liveness_threshold"`
	EmptyBatchBackoff time.Duration `mapstructure:"empty_batch_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// NATSConfig holds NATS configuration for the live update channel.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	TestMode      bool          `mapstructure:"test_mode"`
}

// ProviderConfig holds embedding provider configuration.
type ProviderConfig struct {
	Name              string        `mapstructure:"name"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	DefaultCooldown   time.Duration `mapstructure:"default_cooldown"`
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	WindowLimit       int           `mapstructure:"window_limit"`
}

// QueueConfig holds queue processing configuration.
type QueueConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Retention   time.Duration `mapstructure:"retention"`
}

// MaintenanceConfig holds maintenance sweep configuration.
type MaintenanceConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) *Config {
	var config Config

	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}

	return &config
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}

	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return errors.New("database.port must be between 1 and 65535")
	}

	if c.Worker.Count < 1 {
		return errors.New("worker.count must be at least 1")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker.heartbeat_interval must be positive")
	}

	if c.Worker.LivenessThreshold <= c.Worker.HeartbeatInterval {
		return errors.New("worker.liveness_threshold must exceed worker.heartbeat_interval")
	}

	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}

	if c.Provider.Name == "" {
		return errors.New("provider.name is required")
	}

	return nil
}
