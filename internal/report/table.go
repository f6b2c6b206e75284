package report

import (
	"sort"
	"strconv"
	"sync"
)

// Fixed columns of an exported table. Score columns sit between gold/pred
// lengths and the trace url.
const (
	ColTraceID  = "trace_id"
	ColGoldLen  = "gold_len"
	ColPredLen  = "pred_len"
	ColTraceURL = "trace_url"
	ColModel    = "model"
	ColSplit    = "split"
)

var (
	leadColumns  = []string{ColTraceID, ColGoldLen, ColPredLen}
	trailColumns = []string{ColTraceURL, ColModel, ColSplit}
)

// FixedColumns lists the non-score columns in table order.
func FixedColumns() []string {
	return append(append([]string{}, leadColumns...), trailColumns...)
}

// IsScoreColumn reports whether col holds a score rather than a fixed field.
func IsScoreColumn(col string) bool {
	for _, c := range leadColumns {
		if c == col {
			return false
		}
	}
	for _, c := range trailColumns {
		if c == col {
			return false
		}
	}
	return true
}

// Row is one scored trace.
type Row struct {
	TraceID  string             `json:"trace_id"`
	GoldLen  int                `json:"gold_len"`
	PredLen  int                `json:"pred_len"`
	Scores   map[string]float64 `json:"scores"`
	TraceURL string             `json:"trace_url"`
	Model    string             `json:"model"`
	Split    string             `json:"split"`
}

// Table accumulates rows in insertion order. Appending is safe for
// concurrent use.
type Table struct {
	mu   sync.Mutex
	rows []Row
}

// Append adds a copy of r; later changes to r.Scores do not reach the table.
func (t *Table) Append(r Row) {
	scores := make(map[string]float64, len(r.Scores))
	for k, v := range r.Scores {
		scores[k] = v
	}
	r.Scores = scores
	t.mu.Lock()
	t.rows = append(t.rows, r)
	t.mu.Unlock()
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Rows returns the rows in insertion order.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// ScoreNames is the sorted union of score names over all rows.
func (t *Table) ScoreNames() []string {
	seen := map[string]bool{}
	for _, r := range t.Rows() {
		for name := range r.Scores {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns is the header of the exported table.
func (t *Table) Columns() []string {
	cols := append([]string{}, leadColumns...)
	cols = append(cols, t.ScoreNames()...)
	return append(cols, trailColumns...)
}

// Records renders the table as strings, header first. Scores a row does not
// have are empty cells.
func (t *Table) Records() [][]string {
	names := t.ScoreNames()
	cols := t.Columns()
	records := [][]string{cols}
	for _, r := range t.Rows() {
		rec := make([]string, 0, len(cols))
		rec = append(rec, r.TraceID, strconv.Itoa(r.GoldLen), strconv.Itoa(r.PredLen))
		for _, name := range names {
			if v, ok := r.Scores[name]; ok {
				rec = append(rec, formatFloat(v))
			} else {
				rec = append(rec, "")
			}
		}
		rec = append(rec, r.TraceURL, r.Model, r.Split)
		records = append(records, rec)
	}
	return records
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
