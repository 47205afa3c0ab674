package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/fleet-overlay/internal/db"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the journal schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournal(g, func(j *db.DB) error {
					return printVersion(cmd, j)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping the journal tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournal(g, func(j *db.DB) error {
					if err := j.MigrateDown(); err != nil {
						return err
					}
					return printVersion(cmd, j)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournal(g, func(j *db.DB) error {
					return printVersion(cmd, j)
				})
			},
		},
	)
	return cmd
}

// withJournal opens the journal, which applies pending migrations.
func withJournal(g *globalOptions, fn func(*db.DB) error) error {
	if g.dbPath == "" {
		return errors.New("--db is required")
	}
	j, err := db.Open(g.dbPath)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(j)
}

func printVersion(cmd *cobra.Command, j *db.DB) error {
	v, dirty, err := j.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}
