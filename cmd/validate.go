package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/tracescore/internal/config"
	"github.com/signalnine/tracescore/internal/metric"
	"github.com/signalnine/tracescore/internal/report"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and its metric blocks",
		Long:  "Load the config, then parse every metric block strictly so unknown kinds and malformed params are reported before a run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			applyLogLevel(cfg.Telemetry.LogLevel)
			registry := metric.NewRegistry()
			registry.Reserve(report.FixedColumns()...)
			blocks, err := registry.Parse(cfg.Metrics.Compute, true)
			if err != nil {
				return fmt.Errorf("invalid metrics: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d split(s), %d metric block(s) [%s]\n",
				len(cfg.Datasets), len(blocks), strings.Join(kindNames(blocks), ", "))
			return nil
		},
	}
}
