package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// ModelSummary is the per-model mean of every score column.
type ModelSummary struct {
	Model string             `json:"model"`
	Rows  int                `json:"rows"`
	Means map[string]float64 `json:"means"`
}

// Summary aggregates an exported table by model.
type Summary struct {
	Scores []string       `json:"scores"`
	Models []ModelSummary `json:"models"`
}

// Generate summarises exported records and writes the summary as a table,
// markdown or json.
func Generate(records [][]string, format string, w io.Writer) error {
	s, err := Summarize(records)
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

// Summarize groups records (header first) by model and averages each score
// column over the rows that have a value for it.
func Summarize(records [][]string) (*Summary, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("empty report: no header")
	}
	header := records[0]
	modelCol := -1
	var scoreCols []int
	for i, c := range header {
		if c == ColModel {
			modelCol = i
		}
		if IsScoreColumn(c) {
			scoreCols = append(scoreCols, i)
		}
	}

	type accum struct {
		rows   int
		sums   map[string]float64
		counts map[string]int
	}
	byModel := map[string]*accum{}
	for n, rec := range records[1:] {
		model := ""
		if modelCol >= 0 && modelCol < len(rec) {
			model = rec[modelCol]
		}
		a, ok := byModel[model]
		if !ok {
			a = &accum{sums: map[string]float64{}, counts: map[string]int{}}
			byModel[model] = a
		}
		a.rows++
		for _, i := range scoreCols {
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", n+1, header[i], err)
			}
			a.sums[header[i]] += v
			a.counts[header[i]]++
		}
	}

	s := &Summary{}
	for _, i := range scoreCols {
		s.Scores = append(s.Scores, header[i])
	}
	for model, a := range byModel {
		ms := ModelSummary{Model: model, Rows: a.rows, Means: map[string]float64{}}
		for name, sum := range a.sums {
			ms.Means[name] = sum / float64(a.counts[name])
		}
		s.Models = append(s.Models, ms)
	}
	sort.Slice(s.Models, func(i, j int) bool {
		return s.Models[i].Model < s.Models[j].Model
	})
	return s, nil
}

func displayModel(m string) string {
	if m == "" {
		return "(unknown)"
	}
	return m
}

func mean(ms ModelSummary, name string) string {
	v, ok := ms.Means[name]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

func writeTable(s *Summary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	head := []string{"MODEL", "ROWS"}
	for _, name := range s.Scores {
		head = append(head, strings.ToUpper(name))
	}
	fmt.Fprintln(tw, strings.Join(head, "\t"))
	fmt.Fprintln(tw, strings.Repeat("-", 16*len(head)))
	for _, ms := range s.Models {
		cells := []string{displayModel(ms.Model), strconv.Itoa(ms.Rows)}
		for _, name := range s.Scores {
			cells = append(cells, mean(ms, name))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func writeMarkdown(s *Summary, w io.Writer) error {
	head := append([]string{"Model", "Rows"}, s.Scores...)
	fmt.Fprintf(w, "| %s |\n", strings.Join(head, " | "))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(head)))
	for _, ms := range s.Models {
		cells := []string{displayModel(ms.Model), strconv.Itoa(ms.Rows)}
		for _, name := range s.Scores {
			cells = append(cells, mean(ms, name))
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	return nil
}

func writeJSON(s *Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
