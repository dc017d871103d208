package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/matt-riley/flagkit/migrations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the flag_definitions migrations",
		Long: "Applies pending migrations and points the change trigger at the configured\n" +
			"notify channel. Rerun after changing FEATUREFLAG_NOTIFY_CHANNEL.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("--database-url or FEATUREFLAG_DATABASE_URL is required")
			}

			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			db := stdlib.OpenDBFromPool(pool)
			defer db.Close()

			if err := migrations.Up(cmd.Context(), db, cfg.NotifyChannel); err != nil {
				return err
			}

			newLogger(cmd, cfg).Info("migrations applied", "notify_channel", migrations.NotifyChannel(cfg.NotifyChannel))
			return nil
		},
	}
}
