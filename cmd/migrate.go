package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Ablestor/expo-electron-updates-server/internal/config"
	"github.com/Ablestor/expo-electron-updates-server/internal/logging"
)

var migrationsPath = "file://migrations"

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.NewConfig(appConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logging.Init(appConfig.Log.Level)
			return runMigrations(appConfig)
		},
	}
	cmd.Flags().StringVar(&migrationsPath, "path", migrationsPath, "Migrations source URL")
	return cmd
}

func runMigrations(cfg *config.Config) error {
	var m *migrate.Migrate
	err := retry.Do(func() error {
		var err error
		m, err = migrate.New(migrationsPath, cfg.Database.GetURL())
		return err
	},
		retry.Attempts(5),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("failed to create migrate instance")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("found dirty database state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ = m.Version()
	log.Info().Uint("version", version).Msg("database schema is up to date")
	return nil
}
