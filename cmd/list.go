package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/tracescore/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured splits and metric blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, config.WithoutCredentials())
			if err != nil {
				return err
			}
			applyLogLevel(cfg.Telemetry.LogLevel)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trace: %s @ %s\n", cfg.Trace.Name, cfg.Langfuse.Host)
			fmt.Fprintln(out, "\nSplits:")
			for _, name := range cfg.SplitNames() {
				ds := cfg.Datasets[name]
				fmt.Fprintf(out, "  - %s: dataset %s -> %s\n", name, ds.DatasetName, cfg.ExportPath(name))
			}
			fmt.Fprintln(out, "\nMetrics:")
			for i, b := range cfg.Metrics.Compute {
				fmt.Fprintf(out, "  %d. %s %v\n", i+1, b.Kind, b.Params)
			}
			return nil
		},
	}
}
