package result

import "time"

// RunMeta records one evaluation run.
type RunMeta struct {
	Split        string    `json:"split"`
	Dataset      string    `json:"dataset"`
	TraceName    string    `json:"trace_name"`
	Export       string    `json:"export"`
	Format       string    `json:"format"`
	DryRun       bool      `json:"dry_run"`
	Metrics      []string  `json:"metrics"`
	StartedAt    time.Time `json:"started_at"`
	DurationS    float64   `json:"duration_s"`
	Pages        int       `json:"pages"`
	Fetched      int       `json:"fetched"`
	Scored       int       `json:"scored"`
	Skipped      int       `json:"skipped"`
	FailedTraces []string  `json:"failed_traces,omitempty"`
	Error        string    `json:"error,omitempty"`
}
