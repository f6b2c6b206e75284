// Package telemetry holds the run's prometheus counters and the
// OpenTelemetry tracer setup.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tracescore"

// Metrics are the counters of one evaluation run. They live in their own
// registry so a run can be dumped to a node-exporter textfile.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched   prometheus.Counter
	TracesFetched  prometheus.Counter
	TracesScored   prometheus.Counter
	TracesSkipped  *prometheus.CounterVec
	ScoreWrites    *prometheus.CounterVec
	FetchRetries   prometheus.Counter
	MetricDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Trace listing pages fetched.",
		}),
		TracesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_fetched_total",
			Help:      "Traces fetched that belong to the evaluated dataset.",
		}),
		TracesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_scored_total",
			Help:      "Traces scored and added to the report.",
		}),
		TracesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_skipped_total",
			Help:      "Traces left out of the report, by reason.",
		}, []string{"reason"}),
		ScoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_writes_total",
			Help:      "Per-trace score write-backs, by result.",
		}, []string{"result"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Trace store requests retried after a rate limit or server error.",
		}),
		MetricDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metric_duration_seconds",
			Help:      "Time spent computing one metric block.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
	}
	m.Registry.MustRegister(
		m.PagesFetched,
		m.TracesFetched,
		m.TracesScored,
		m.TracesSkipped,
		m.ScoreWrites,
		m.FetchRetries,
		m.MetricDuration,
	)
	return m
}

// ObserveMetric records how long one block of kind took.
func (m *Metrics) ObserveMetric(kind string, d time.Duration) {
	m.MetricDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// WriteTextfile dumps the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
