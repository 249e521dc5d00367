package cmd

import (
	"errors"
	"fmt"
	"net/url"

	"receiptqueue/internal/application/common/slogger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

// newMigrateCmd creates and returns the migrate command.
func newMigrateCmd() *cobra.Command {
	var (
		migrationsPath string
		down           bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run database migrations to set up or update the database schema.

Applies the SQL migrations that create the queue_items, workers,
queue_config and rate_limits tables plus their indexes. With --down the
last applied migration is rolled back instead.

Database connection settings are loaded from config files and environment
variables.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrations(migrationsPath, down)
		},
	}

	cmd.Flags().StringVar(&migrationsPath, "path", "migrations", "directory containing migration files")
	cmd.Flags().BoolVar(&down, "down", false, "roll back the last migration instead of applying")
	return cmd
}

func runMigrations(path string, down bool) error {
	cfg := GetConfig()

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.Database.User),
		url.QueryEscape(cfg.Database.Password),
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	migrator, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		sourceErr, dbErr := migrator.Close()
		if sourceErr != nil {
			slogger.WarnNoCtx("Migration source close failed", slogger.Field("error", sourceErr.Error()))
		}
		if dbErr != nil {
			slogger.WarnNoCtx("Migration database close failed", slogger.Field("error", dbErr.Error()))
		}
	}()

	if down {
		err = migrator.Steps(-1)
	} else {
		err = migrator.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slogger.InfoNoCtx("Schema already up to date", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	slogger.InfoNoCtx("Migrations applied", slogger.Field("path", path))
	return nil
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newMigrateCmd())
}
