package runner

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalnine/tracescore/internal/langfuse"
	"github.com/signalnine/tracescore/internal/log"
	"github.com/signalnine/tracescore/internal/metric"
	"github.com/signalnine/tracescore/internal/report"
	"github.com/signalnine/tracescore/internal/telemetry"
)

// Output payload fields the generator fills in.
const (
	FieldGold   = "gold_summary"
	FieldPred   = "pred_summary"
	FieldSource = "source_text"
)

// TraceSource lists traces page by page.
type TraceSource interface {
	FetchPage(ctx context.Context, q langfuse.TraceQuery) (*langfuse.PageBatch, error)
	TraceURL(t langfuse.Trace) string
}

// ScoreSink receives score write-backs. Flush commits everything added
// since the previous flush; it reports failed traces with
// *langfuse.TraceWriteError values.
type ScoreSink interface {
	AddScore(traceID, name string, value float64)
	Flush(ctx context.Context) error
}

// DiscardSink drops every score. It backs dry runs.
type DiscardSink struct{}

func (DiscardSink) AddScore(string, string, float64) {}
func (DiscardSink) Flush(context.Context) error { return nil }

// Evaluator drives one evaluation pass: fetch a page, score its traces,
// write the scores back and collect report rows, until the pages run out.
type Evaluator struct {
	Source     TraceSource
	Sink       ScoreSink
	Dispatcher *metric.Dispatcher
	Blocks     []metric.Block
	Metrics    *telemetry.Metrics
	Logger     log.Logger

	// PageDelay is the pause after a page's write-back before the next
	// page is fetched.
	PageDelay time.Duration
	PageLimit int
	// Workers bounds how many traces of a page are scored concurrently.
	Workers int
}

// Query selects what to evaluate.
type Query struct {
	TraceName string
	Tags      []string
	Dataset   string
	Split     string
}

// Summary is the outcome of a run.
type Summary struct {
	Pages   int
	Fetched int
	Scored  int
	// Skipped counts traces without gold or predicted text.
	Skipped      int
	FailedTraces []string
	SkippedKinds []metric.Kind
	Table        *report.Table
}

type scored struct {
	trace langfuse.Trace
	gold  string
	pred  string
	res   metric.Result
	skip  bool
}

// Run evaluates every page of q. A fetch or metric error aborts the run and
// is returned with the partial summary; traces whose scores could not be
// written are listed in Summary.FailedTraces but stay in the table.
func (e *Evaluator) Run(ctx context.Context, q Query) (*Summary, error) {
	if e.Sink == nil {
		e.Sink = DiscardSink{}
	}
	if e.Dispatcher == nil {
		e.Dispatcher = metric.NewDispatcher(nil)
	}
	if e.Metrics == nil {
		e.Metrics = telemetry.NewMetrics()
	}
	if e.Logger == nil {
		e.Logger = log.Default
	}

	ctx, span := telemetry.Tracer().Start(ctx, "evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("trace.name", q.TraceName),
		attribute.String("dataset", q.Dataset),
		attribute.String("split", q.Split),
	)

	sum := &Summary{Table: &report.Table{}}
	skippedKinds := map[metric.Kind]bool{}

	for page := 1; ; page++ {
		batch, err := e.Source.FetchPage(ctx, langfuse.TraceQuery{
			Name:    q.TraceName,
			Dataset: q.Dataset,
			Tags:    q.Tags,
			Page:    page,
			Limit:   e.PageLimit,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return sum, err
		}
		sum.Pages++
		e.Metrics.PagesFetched.Inc()
		if batch.RawCount == 0 {
			break
		}
		sum.Fetched += len(batch.Traces)
		e.Metrics.TracesFetched.Add(float64(len(batch.Traces)))

		if err := e.processPage(ctx, batch, q, sum, skippedKinds); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scoring failed")
			return sum, err
		}
		e.Logger.Infof("page %d/%d: %d traces in %s, %d rows so far",
			batch.Page, batch.TotalPages, len(batch.Traces), q.Dataset, sum.Table.Len())
		if batch.Last() {
			break
		}
		if err := pause(ctx, e.PageDelay); err != nil {
			return sum, err
		}
	}

	span.SetAttributes(
		attribute.Int("pages", sum.Pages),
		attribute.Int("scored", sum.Scored),
		attribute.Int("failed", len(sum.FailedTraces)),
	)
	return sum, nil
}

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Evaluator) processPage(ctx context.Context, batch *langfuse.PageBatch, q Query, sum *Summary, skippedKinds map[metric.Kind]bool) error {
	ctx, span := telemetry.Tracer().Start(ctx, "page")
	defer span.End()
	span.SetAttributes(attribute.Int("page", batch.Page), attribute.Int("traces", len(batch.Traces)))

	results := make([]scored, len(batch.Traces))
	jobs := make([]Job, len(batch.Traces))
	for i, t := range batch.Traces {
		i, t := i, t
		jobs[i] = func(context.Context) error {
			gold := t.OutputText(FieldGold)
			pred := t.OutputText(FieldPred)
			results[i] = scored{trace: t, gold: gold, pred: pred}
			if gold == "" || pred == "" {
				results[i].skip = true
				return nil
			}
			res, err := e.Dispatcher.Compute(pred, gold, t.OutputText(FieldSource), e.Blocks)
			if err != nil {
				return fmt.Errorf("trace %s: %w", t.ID, err)
			}
			results[i].res = res
			return nil
		}
	}
	if err := RunPool(ctx, e.Workers, jobs); err != nil {
		return err
	}

	var written []string
	for _, r := range results {
		if r.skip {
			sum.Skipped++
			e.Metrics.TracesSkipped.WithLabelValues("empty_text").Inc()
			e.Logger.Debugf("skipping trace %s: empty gold or prediction", r.trace.ID)
			continue
		}
		for _, k := range r.res.Skipped {
			if !skippedKinds[k] {
				skippedKinds[k] = true
				sum.SkippedKinds = append(sum.SkippedKinds, k)
				e.Logger.Warnf("metric kind %q is not registered, skipping it", k)
			}
		}
		if len(r.res.Dropped) > 0 {
			e.Logger.Warnf("trace %s: dropped non-finite scores %v", r.trace.ID, r.res.Dropped)
		}
		for _, name := range r.res.Scores.Names() {
			e.Sink.AddScore(r.trace.ID, name, r.res.Scores[name])
		}
		written = append(written, r.trace.ID)

		split := r.trace.InputText("split")
		if split == "" {
			split = q.Split
		}
		sum.Table.Append(report.Row{
			TraceID:  r.trace.ID,
			GoldLen:  utf8.RuneCountInString(r.gold),
			PredLen:  utf8.RuneCountInString(r.pred),
			Scores:   r.res.Scores,
			TraceURL: e.Source.TraceURL(r.trace),
			Model:    r.trace.MetadataText("model"),
			Split:    split,
		})
		sum.Scored++
		e.Metrics.TracesScored.Inc()
	}

	failed := e.flush(ctx, written)
	sum.FailedTraces = append(sum.FailedTraces, failed...)
	e.Metrics.ScoreWrites.WithLabelValues("ok").Add(float64(len(written) - len(failed)))
	e.Metrics.ScoreWrites.WithLabelValues("failed").Add(float64(len(failed)))
	return nil
}

// flush commits the page's scores and returns the ids of traces whose
// write failed. An error that names no trace fails the whole page.
func (e *Evaluator) flush(ctx context.Context, written []string) []string {
	err := e.Sink.Flush(ctx)
	if err == nil {
		return nil
	}
	failed := langfuse.FailedTraceIDs(err)
	if len(failed) == 0 {
		failed = append(failed, written...)
	}
	e.Logger.Warnf("score write-back failed for %d trace(s): %v", len(failed), err)
	return failed
}
