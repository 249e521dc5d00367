// Package cmd provides the command-line interface for the receipt
// embedding queue.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"receiptqueue/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "receiptqueue",
	Short: "Receipt embedding work queue",
	Long: `receiptqueue coordinates embedding generation for receipt documents.

Producers enqueue per-receipt work items; a pool of workers claims items in
priority order, calls the embedding provider, and reports outcomes back to
the durable queue. Rate-limit push-back from the provider parks items
without spending their retry budget, heartbeats drive crash detection, and
maintenance sweeps keep the queue healthy.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
	}
	if err := viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-format flag: %v\n", err)
	}
}

func initConfig() {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RECEIPTQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found; defaults and environment apply.
	}

	cfg = config.New(v)
}

func setDefaults(v *viper.Viper) {
	// Worker defaults
	v.SetDefault("worker.count", 3)
	v.SetDefault("worker.heartbeat_interval", "15s")
	v.SetDefault("worker.liveness_threshold", "90s")
	v.SetDefault("worker.empty_batch_backoff", "1s")
	v.SetDefault("worker.max_backoff", "30s")
	v.SetDefault("worker.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "receiptqueue")
	v.SetDefault("database.name", "receiptqueue")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Provider defaults
	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.base_url", "https://api.openai.com")
	v.SetDefault("provider.model", "text-embedding-3-small")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.default_cooldown", "60s")
	v.SetDefault("provider.window_duration", "60s")
	v.SetDefault("provider.window_limit", 300)

	// Queue defaults
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.stale_after", "90s")
	v.SetDefault("queue.grace_period", "30s")
	v.SetDefault("queue.retention", "168h")

	// Maintenance defaults
	v.SetDefault("maintenance.sweep_interval", "1m")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}
