// Command overlay runs the fleet overlay host: it ingests marker sightings
// from an AR device, aligns the device frame with the fleet's world frame
// and serves laid-out robot trajectories to renderers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/monitoring"
	"github.com/banshee-data/fleet-overlay/internal/version"
)

var logger = monitoring.Component("Main")

type globalOptions struct {
	configPath string
	dbPath     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "overlay",
		Short: "Fleet robot AR overlay host",
		Long: `overlay aligns an AR device with a robot fleet's world frame using
fiducial markers on the robots, and publishes the fleet's predicted
trajectories laid out on distinct height levels.

Examples:
  overlay serve --config config/overlay.defaults.json
  overlay layout trajectories.json --plot layout.png
  overlay migrate version --db overlay.db
  overlay watch --addr localhost:50051 --highlight tinyRobot1`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			monitoring.SetVerbose(opts.verbose)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath,
		"Tuning config JSON file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "overlay.db",
		"Journal database path (empty disables the journal)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newLayoutCmd(opts),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "overlay "+version.String())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
