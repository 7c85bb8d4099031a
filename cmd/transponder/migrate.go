package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medbridge/transponder/internal/config"
	"github.com/medbridge/transponder/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the outbox and saga tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := logging.New(cfg.LogLevel, cfg.IsDev())

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			logger.Info().Str("dialect", cfg.DBDialect).Msg("schema applied")
			return nil
		},
	}
}
