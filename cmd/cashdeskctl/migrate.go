package main

import (
	"fmt"
	"strconv"

	"cashdesk/internal/infra"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			db, err := infra.NewDatabase(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := infra.Migrate(db); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			db, err := infra.NewDatabase(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := infra.MigrateDown(db, steps); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			db, err := infra.NewDatabase(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, db *gorm.DB) error {
	v, dirty, err := infra.MigrationVersion(db)
	if err != nil {
		return err
	}
	if v == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema version: none")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d (dirty=%t)\n", v, dirty)
	return nil
}
