package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/viant/afs"

	"github.com/signalnine/tracescore/internal/config"
	"github.com/signalnine/tracescore/internal/report"
	"github.com/signalnine/tracescore/internal/result"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [export-file]",
		Short: "Summarise an exported score table per model",
		Long:  "Read an exported score table (csv, xlsx or json; local path or storage URL) and print the mean of every score per model. Without an argument the export of the latest run is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) > 0 {
				location = args[0]
			} else {
				cfg, err := config.Load(cfgFile, config.WithoutCredentials())
				if err != nil {
					return err
				}
				applyLogLevel(cfg.Telemetry.LogLevel)
				meta, err := result.LatestRunMeta(cfg.Results.Dir)
				if err != nil {
					return fmt.Errorf("no export given and no latest run: %w", err)
				}
				location = meta.Export
			}
			records, err := report.Read(cmd.Context(), afs.New(), location)
			if err != nil {
				return err
			}
			return report.Generate(records, flagFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
