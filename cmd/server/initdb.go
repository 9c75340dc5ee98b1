package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitDBCommand(opts *rootOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the database schema",
		Long:  "Create the SQLite schema if missing. With --reset, delete every evaluation and unlock request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}

			db, err := openStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			if reset {
				if err := db.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset database: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "database %s reset\n", cfg.DatabasePath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s ready\n", cfg.DatabasePath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete all rows after migrating")
	return cmd
}
