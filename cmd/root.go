package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/tracescore/internal/log"
)

var (
	cfgFile      string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tracescore",
		Short:         "Score Langfuse summarization traces against their references",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyLogLevel("")
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "tracescore.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides telemetry.log_level")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// applyLogLevel sets the level from the flag, falling back to the config.
func applyLogLevel(configured string) {
	switch {
	case flagLogLevel != "":
		log.SetLevel(flagLogLevel)
	case configured != "":
		log.SetLevel(configured)
	}
}
