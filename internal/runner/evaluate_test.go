package runner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/tracescore/internal/config"
	"github.com/signalnine/tracescore/internal/langfuse"
	"github.com/signalnine/tracescore/internal/log"
	"github.com/signalnine/tracescore/internal/metric"
	"github.com/signalnine/tracescore/internal/runner"
	"github.com/signalnine/tracescore/internal/telemetry"
)

const dataset = "summaries-train"

// fakeSource serves fixed raw pages and filters them like the real client.
type fakeSource struct {
	pages      map[int][]langfuse.Trace
	totalPages int
	errAt      int
	calls      []int
	starts     []time.Time
}

func (f *fakeSource) FetchPage(_ context.Context, q langfuse.TraceQuery) (*langfuse.PageBatch, error) {
	f.calls = append(f.calls, q.Page)
	f.starts = append(f.starts, time.Now())
	if q.Page == f.errAt {
		return nil, &langfuse.StatusError{Method: "GET", StatusCode: 500}
	}
	raw := f.pages[q.Page]
	batch := &langfuse.PageBatch{RawCount: len(raw), TotalPages: f.totalPages, Page: q.Page}
	for _, t := range raw {
		if t.MetadataText("dataset") == q.Dataset {
			batch.Traces = append(batch.Traces, t)
		}
	}
	return batch, nil
}

func (f *fakeSource) TraceURL(t langfuse.Trace) string {
	return "http://langfuse.test" + t.HTMLPath
}

type recordingSink struct {
	scores    map[string]map[string]float64
	pending   []string
	fail      map[string]bool
	flushes   int
	flushTime time.Duration
	flushEnds []time.Time
}

func newSink() *recordingSink {
	return &recordingSink{scores: map[string]map[string]float64{}, fail: map[string]bool{}}
}

func (s *recordingSink) AddScore(traceID, name string, value float64) {
	if s.scores[traceID] == nil {
		s.scores[traceID] = map[string]float64{}
		s.pending = append(s.pending, traceID)
	}
	s.scores[traceID][name] = value
}

func (s *recordingSink) Flush(context.Context) error {
	s.flushes++
	time.Sleep(s.flushTime)
	defer func() { s.flushEnds = append(s.flushEnds, time.Now()) }()
	var result *multierror.Error
	for _, id := range s.pending {
		if s.fail[id] {
			delete(s.scores, id)
			result = multierror.Append(result, &langfuse.TraceWriteError{TraceID: id, Err: errors.New("HTTP 400")})
		}
	}
	s.pending = nil
	return result.ErrorOrNil()
}

func tr(id, ds, gold, pred string) langfuse.Trace {
	return langfuse.Trace{
		ID:       id,
		HTMLPath: "/project/p/traces/" + id,
		Input:    map[string]any{"split": "train"},
		Output:   map[string]any{"gold_summary": gold, "pred_summary": pred, "source_text": "src " + gold},
		Metadata: map[string]any{"dataset": ds, "model": "llama3"},
	}
}

func blocks(t *testing.T, cfg ...config.MetricBlock) []metric.Block {
	t.Helper()
	if len(cfg) == 0 {
		cfg = []config.MetricBlock{{Kind: "substring"}, {Kind: "length_ratio"}}
	}
	b, err := metric.NewRegistry().Parse(cfg, false)
	require.NoError(t, err)
	return b
}

func newEvaluator(t *testing.T, src runner.TraceSource, sink runner.ScoreSink) *runner.Evaluator {
	return &runner.Evaluator{
		Source:  src,
		Sink:    sink,
		Blocks:  blocks(t),
		Metrics: telemetry.NewMetrics(),
		Logger:  log.Discard,
	}
}

var query = runner.Query{TraceName: "agentse.app.summarization", Dataset: dataset, Split: "train"}

func TestRunEndToEnd(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{
		1: {
			tr("A", dataset, "The cat sat.", "A cat sat."),
			tr("B", dataset, "The dog ran.", ""),
		},
	}}
	sink := newSink()
	ev := newEvaluator(t, src, sink)

	sum, err := ev.Run(context.Background(), query)
	require.NoError(t, err)

	rows := sum.Table.Rows()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "A", row.TraceID)
	assert.Equal(t, 12, row.GoldLen)
	assert.Equal(t, 10, row.PredLen)
	assert.Equal(t, 0.0, row.Scores["exact_contains"])
	assert.Equal(t, 0.833, row.Scores["len_ratio"])
	assert.Equal(t, "http://langfuse.test/project/p/traces/A", row.TraceURL)
	assert.Equal(t, "llama3", row.Model)
	assert.Equal(t, "train", row.Split)

	assert.Equal(t, 1, sum.Scored)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, map[string]map[string]float64{
		"A": {"exact_contains": 0, "len_ratio": 0.833},
	}, sink.scores)
	assert.Equal(t, 1, sink.flushes)
	assert.Equal(t, 1.0, testutil.ToFloat64(ev.Metrics.TracesSkipped.WithLabelValues("empty_text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ev.Metrics.ScoreWrites.WithLabelValues("ok")))
}

func TestRunSkipsPageWithoutMatches(t *testing.T) {
	src := &fakeSource{totalPages: 4, pages: map[int][]langfuse.Trace{
		1: {tr("p1a", dataset, "g", "p"), tr("p1b", dataset, "g", "p")},
		2: {tr("p2a", dataset, "g", "p"), tr("p2x", "other", "g", "p")},
		3: {tr("p3x", "other", "g", "p"), tr("p3y", "other", "g", "p")},
		4: {tr("p4a", dataset, "g", "p")},
		5: {tr("p5a", dataset, "g", "p")},
	}}
	sink := newSink()
	sum, err := newEvaluator(t, src, sink).Run(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, src.calls)
	assert.Equal(t, 4, sum.Pages)
	assert.Equal(t, 4, sum.Table.Len())
	assert.Equal(t, "p4a", sum.Table.Rows()[3].TraceID)
	assert.Equal(t, 4, sink.flushes)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{totalPages: 10, pages: map[int][]langfuse.Trace{
		1: {tr("a", dataset, "g", "p")},
		3: {tr("c", dataset, "g", "p")},
	}}
	sum, err := newEvaluator(t, src, newSink()).Run(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, src.calls)
	assert.Equal(t, 1, sum.Table.Len())
}

func TestRunFetchErrorAborts(t *testing.T) {
	src := &fakeSource{totalPages: 3, errAt: 2, pages: map[int][]langfuse.Trace{
		1: {tr("a", dataset, "g", "p")},
		3: {tr("c", dataset, "g", "p")},
	}}
	sum, err := newEvaluator(t, src, newSink()).Run(context.Background(), query)
	var se *langfuse.StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, []int{1, 2}, src.calls)
	assert.Equal(t, 1, sum.Pages)
}

func TestRunWriteFailuresAreReported(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{
		1: {tr("t1", dataset, "g", "p"), tr("t2", dataset, "g", "p"), tr("t3", dataset, "g", "p")},
	}}
	sink := newSink()
	sink.fail["t2"] = true
	ev := newEvaluator(t, src, sink)

	sum, err := ev.Run(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, sum.FailedTraces)
	assert.Equal(t, 3, sum.Table.Len())
	assert.NotContains(t, sink.scores, "t2")
	assert.Equal(t, 2.0, testutil.ToFloat64(ev.Metrics.ScoreWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ev.Metrics.ScoreWrites.WithLabelValues("failed")))
}

type opaqueSink struct{ recordingSink }

func (s *opaqueSink) Flush(context.Context) error { return errors.New("connection reset") }

func TestRunUntypedFlushErrorFailsPage(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{
		1: {tr("t1", dataset, "g", "p"), tr("t2", dataset, "", "p"), tr("t3", dataset, "g", "p")},
	}}
	sink := &opaqueSink{recordingSink: *newSink()}
	sum, err := newEvaluator(t, src, sink).Run(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, sum.FailedTraces)
}

func TestRunIsIdempotent(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{
		1: {
			tr("t1", dataset, "The quick brown fox.", "A quick brown fox!"),
			tr("t2", dataset, "Sales rose in March.", "In March, sales rose sharply."),
		},
	}}
	cfg := []config.MetricBlock{
		{Kind: "rouge", Params: map[string]any{"pairs": []any{[]any{"pred", "gold"}}}},
		{Kind: "cosine", Params: map[string]any{"pairs": []any{[]any{"pred", "gold"}, []any{"pred", "source"}}}},
		{Kind: "length_ratio"},
		{Kind: "substring"},
	}

	run := func() (map[string]map[string]float64, [][]string) {
		sink := newSink()
		ev := newEvaluator(t, src, sink)
		ev.Blocks = blocks(t, cfg...)
		ev.Workers = 4
		sum, err := ev.Run(context.Background(), query)
		require.NoError(t, err)
		return sink.scores, sum.Table.Records()
	}
	scores1, records1 := run()
	scores2, records2 := run()
	assert.Equal(t, scores1, scores2)
	assert.Equal(t, records1, records2)
	assert.Contains(t, scores1["t1"], "cosine_pred_source")
	assert.Contains(t, scores1["t1"], "rougeL_f")
}

func TestRunPreservesOrderWithWorkers(t *testing.T) {
	var traces []langfuse.Trace
	for i := 0; i < 50; i++ {
		traces = append(traces, tr(fmt.Sprintf("t%02d", i), dataset, "gold text", "pred text"))
	}
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{1: traces}}
	ev := newEvaluator(t, src, newSink())
	ev.Workers = 8
	sum, err := ev.Run(context.Background(), query)
	require.NoError(t, err)
	rows := sum.Table.Rows()
	require.Len(t, rows, 50)
	for i, r := range rows {
		assert.Equal(t, fmt.Sprintf("t%02d", i), r.TraceID)
	}
}

func TestRunMetricErrorAborts(t *testing.T) {
	reg := metric.NewRegistry()
	reg.Register("explode", func(map[string]any) (metric.Params, error) {
		return metric.SubstringParams{}, nil
	}, func(metric.Texts, metric.Params) (metric.Scores, error) {
		return nil, errors.New("boom")
	})
	b, err := reg.Parse([]config.MetricBlock{{Kind: "explode"}}, false)
	require.NoError(t, err)

	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{1: {tr("t1", dataset, "g", "p")}}}
	sink := newSink()
	ev := newEvaluator(t, src, sink)
	ev.Dispatcher = metric.NewDispatcher(reg)
	ev.Blocks = b
	_, err = ev.Run(context.Background(), query)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, sink.flushes)
}

func TestRunReportsUnknownKinds(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{
		1: {tr("t1", dataset, "g", "p"), tr("t2", dataset, "g", "p")},
	}}
	ev := newEvaluator(t, src, newSink())
	ev.Blocks = blocks(t, config.MetricBlock{Kind: "bleu"}, config.MetricBlock{Kind: "substring"})
	sum, err := ev.Run(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []metric.Kind{"bleu"}, sum.SkippedKinds)
	assert.Equal(t, 2, sum.Table.Len())
}

func TestRunPacesPages(t *testing.T) {
	for _, flushTime := range []time.Duration{0, 60 * time.Millisecond} {
		t.Run(fmt.Sprintf("flush %s", flushTime), func(t *testing.T) {
			src := &fakeSource{totalPages: 3, pages: map[int][]langfuse.Trace{
				1: {tr("a", dataset, "g", "p")},
				2: {tr("b", dataset, "g", "p")},
				3: {tr("c", dataset, "g", "p")},
			}}
			sink := newSink()
			sink.flushTime = flushTime
			ev := newEvaluator(t, src, sink)
			ev.PageDelay = 50 * time.Millisecond

			_, err := ev.Run(context.Background(), query)
			require.NoError(t, err)
			require.Len(t, src.starts, 3)
			require.Len(t, sink.flushEnds, 3)
			// The delay runs from the end of a page's write-back to the next fetch.
			for i := 1; i < len(src.starts); i++ {
				assert.GreaterOrEqual(t, src.starts[i].Sub(sink.flushEnds[i-1]), 45*time.Millisecond)
			}
		})
	}
}

func TestRunPauseHonoursCancel(t *testing.T) {
	src := &fakeSource{totalPages: 2, pages: map[int][]langfuse.Trace{
		1: {tr("a", dataset, "g", "p")},
		2: {tr("b", dataset, "g", "p")},
	}}
	ev := newEvaluator(t, src, newSink())
	ev.PageDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sum, err := ev.Run(ctx, query)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int{1}, src.calls)
	assert.Equal(t, 1, sum.Table.Len())
}

func TestRunDryRun(t *testing.T) {
	src := &fakeSource{totalPages: 1, pages: map[int][]langfuse.Trace{1: {tr("a", dataset, "g", "p")}}}
	ev := newEvaluator(t, src, runner.DiscardSink{})
	sum, err := ev.Run(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Table.Len())
	assert.Empty(t, sum.FailedTraces)
}
