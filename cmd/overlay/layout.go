package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/layout"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
	"github.com/banshee-data/fleet-overlay/internal/visualiser"
)

type layoutOptions struct {
	atMs      int64
	asJSON    bool
	chartPath string
	plotPath  string
}

func newLayoutCmd(g *globalOptions) *cobra.Command {
	lo := layoutOptions{}
	cmd := &cobra.Command{
		Use:   "layout FILE",
		Short: "Lay out a saved trajectory server response",
		Long: `layout reads a trajectory server response ({"response":"trajectory",
"values":[...],"conflicts":[...]}) and prints the height level assigned to
each trajectory. Optionally renders the visible paths at --at.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd, g, lo, args[0])
		},
	}
	cmd.Flags().Int64Var(&lo.atMs, "at", 0, "Server time in ms used to trim the rendered paths")
	cmd.Flags().BoolVar(&lo.asJSON, "json", false, "Print the cycle as JSON")
	cmd.Flags().StringVar(&lo.chartPath, "chart", "", "Write an HTML layout chart to this path")
	cmd.Flags().StringVar(&lo.plotPath, "plot", "", "Write a PNG layout plot to this path")
	return cmd
}

func runLayout(cmd *cobra.Command, g *globalOptions, lo layoutOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var resp rmf.TrajectoryResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	tuning := config.EmptyTuningConfig()
	if g.configPath != "" {
		if c, err := config.LoadTuningConfig(g.configPath); err == nil {
			tuning = c
		} else {
			logger.Debugf("using built-in render defaults: %v", err)
		}
	}

	batch := rmf.Batch{
		Trajectories: resp.Values,
		Conflicts:    layout.NewConflictSet(resp.Conflicts),
		ServerTimeMs: lo.atMs,
	}
	cycle := overlay.BuildCycle(batch, overlay.RenderConfigFromTuning(tuning))

	if lo.asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(cycle, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRAJECTORY\tLEVEL\tCONFLICT")
		for _, a := range cycle.Assignments {
			fmt.Fprintf(w, "%d\t%d\t%t\n", a.TrajectoryID, a.HeightLevel, a.IsConflicting)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d trajectories, %d conflict pairs\n", len(cycle.Assignments), cycle.ConflictCount)
	}

	if lo.chartPath == "" && lo.plotPath == "" {
		return nil
	}
	// Renderers draw the items of a localized frame.
	frame := overlay.Frame{
		ID:            path,
		Localized:     true,
		ServerTimeMs:  cycle.ServerTimeMs,
		ConflictCount: cycle.ConflictCount,
		Assignments:   cycle.Assignments,
		Items:         cycle.Items,
	}
	if lo.chartPath != "" {
		if err := writeFile(lo.chartPath, func(f *os.File) error { return visualiser.RenderLayoutChart(f, frame) }); err != nil {
			return err
		}
	}
	if lo.plotPath != "" {
		if err := writeFile(lo.plotPath, func(f *os.File) error { return visualiser.RenderLayoutPlot(f, frame) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
