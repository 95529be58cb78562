package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/availability-engine/internal/persistence/sqlite"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			pool, err := sqlite.NewConnectionPool(cfg.SQLite())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := sqlite.Migrate(cmd.Context(), pool, logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", version)
			}
			return nil
		},
	}
}
