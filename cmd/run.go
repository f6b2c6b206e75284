package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/afs"

	"github.com/signalnine/tracescore/internal/config"
	"github.com/signalnine/tracescore/internal/langfuse"
	"github.com/signalnine/tracescore/internal/log"
	"github.com/signalnine/tracescore/internal/metric"
	"github.com/signalnine/tracescore/internal/report"
	"github.com/signalnine/tracescore/internal/result"
	"github.com/signalnine/tracescore/internal/runner"
	"github.com/signalnine/tracescore/internal/telemetry"
)

var (
	flagSplit   string
	flagDryRun  bool
	flagWorkers int
	flagOutput  string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score every trace of a split and export the results",
		RunE:  runEvaluation,
	}
	cmd.Flags().StringVar(&flagSplit, "split", "train", "split to evaluate (a key of datasets)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "compute and export without writing scores back")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "traces scored concurrently per page; overrides eval.workers")
	cmd.Flags().StringVar(&flagOutput, "output", "", "export location; overrides the configured path")
	return cmd
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.Telemetry.LogLevel)

	ds, err := cfg.Split(flagSplit)
	if err != nil {
		return err
	}
	if flagWorkers > 0 {
		cfg.Eval.Workers = flagWorkers
	}
	dryRun := cfg.Eval.DryRun || flagDryRun
	output := flagOutput
	if output == "" {
		output = cfg.ExportPath(flagSplit)
	}
	format := report.FormatFor(output, cfg.Eval.ExportFormat)

	registry := metric.NewRegistry()
	registry.Reserve(report.FixedColumns()...)
	blocks, err := registry.Parse(cfg.Metrics.Compute, cfg.Metrics.Strict)
	if err != nil {
		return fmt.Errorf("parsing metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TraceStdout, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Default.Warnf("flushing spans: %v", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	client := langfuse.New(cfg.Langfuse.Host, cfg.Langfuse.PublicKey, cfg.Langfuse.SecretKey,
		langfuse.WithTimeout(cfg.Eval.RequestTimeout()),
		langfuse.WithMaxRetries(cfg.Eval.MaxRetries),
		langfuse.WithRetryAfterDefault(cfg.Eval.RetryAfterDefault()),
		langfuse.WithRetryHook(func(error, time.Duration) { metrics.FetchRetries.Inc() }),
	)

	var sink runner.ScoreSink = client.NewScoreBatch()
	if dryRun {
		sink = runner.DiscardSink{}
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run: scores will not be written back")
	} else {
		for _, o := range client.EnsureScoreConfigs(ctx, cfg.Metrics.ScoreConfigs) {
			switch {
			case o.Err != nil:
				log.Default.Warnf("score config %s: %v", o.Name, o.Err)
			case o.Created:
				log.Default.Infof("created score config %s", o.Name)
			}
		}
	}

	ev := &runner.Evaluator{
		Source: client,
		Sink:   sink,
		Dispatcher: metric.NewDispatcher(registry, metric.WithObserver(func(k metric.Kind, d time.Duration) {
			metrics.ObserveMetric(string(k), d)
		})),
		Blocks:    blocks,
		Metrics:   metrics,
		Logger:    log.Default,
		PageDelay: cfg.Eval.PageDelay(),
		PageLimit: cfg.Eval.PageLimit,
		Workers:   cfg.Eval.Workers,
	}

	started := time.Now()
	sum, runErr := ev.Run(ctx, runner.Query{
		TraceName: cfg.Trace.Name,
		Tags:      cfg.Trace.Tags,
		Dataset:   ds.DatasetName,
		Split:     flagSplit,
	})
	if runErr == nil {
		runErr = report.Export(ctx, afs.New(), output, format, sum.Table)
	}

	meta := &result.RunMeta{
		Split:     flagSplit,
		Dataset:   ds.DatasetName,
		TraceName: cfg.Trace.Name,
		Export:    report.URL(output),
		Format:    format,
		DryRun:    dryRun,
		Metrics:   kindNames(blocks),
		StartedAt: started.UTC(),
		DurationS: time.Since(started).Seconds(),
	}
	if sum != nil {
		meta.Pages, meta.Fetched, meta.Scored, meta.Skipped = sum.Pages, sum.Fetched, sum.Scored, sum.Skipped
		meta.FailedTraces = sum.FailedTraces
	}
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	recordRun(cfg, meta, metrics)

	if runErr != nil {
		return fmt.Errorf("evaluating split %s: %w", flagSplit, runErr)
	}

	out := cmd.OutOrStdout()
	if len(sum.FailedTraces) > 0 {
		fmt.Fprintf(out, "score write-back failed for %d trace(s):\n", len(sum.FailedTraces))
		for _, id := range sum.FailedTraces {
			fmt.Fprintf(out, "  - %s\n", id)
		}
	}
	fmt.Fprintf(out, "wrote %s with %d rows\n", output, sum.Table.Len())
	return nil
}

// recordRun stores run metadata and the metrics textfile. Failures here only
// warn; the export is the run's real output.
func recordRun(cfg *config.Config, meta *result.RunMeta, metrics *telemetry.Metrics) {
	if cfg.Results.Dir != "" {
		runDir, err := result.CreateRunDir(cfg.Results.Dir)
		if err == nil {
			err = result.WriteRunMeta(runDir, meta)
		}
		if err != nil {
			log.Default.Warnf("recording run: %v", err)
		}
	}
	if cfg.Telemetry.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.Telemetry.MetricsTextfile); err != nil {
			log.Default.Warnf("writing metrics textfile: %v", err)
		}
	}
}

func kindNames(blocks []metric.Block) []string {
	names := make([]string, len(blocks))
	for i, b := range blocks {
		names[i] = string(b.Kind)
	}
	return names
}
