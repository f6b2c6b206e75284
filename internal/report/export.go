package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
)

const sheetName = "scores"

// FormatFor picks the export format: the configured one when set,
// otherwise the one named by the file extension, csv by default.
func FormatFor(location, configured string) string {
	if configured != "" {
		return configured
	}
	switch strings.ToLower(path.Ext(location)) {
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// URL turns a local path into an absolute one so afs resolves it against
// the working directory. Locations with a scheme pass through.
func URL(location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		return abs
	}
	return location
}

// Encode serialises the table in the given format.
func Encode(t *Table, format string) ([]byte, error) {
	switch format {
	case FormatCSV, "":
		return encodeCSV(t)
	case FormatXLSX:
		return encodeXLSX(t)
	case FormatJSON:
		return encodeJSON(t)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func encodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(t.Records()); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeXLSX(t *Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, err
	}

	cols := t.Columns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("writing xlsx header: %w", err)
	}

	names := t.ScoreNames()
	for i, r := range t.Rows() {
		row := []any{r.TraceID, r.GoldLen, r.PredLen}
		for _, name := range names {
			if v, ok := r.Scores[name]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		row = append(row, r.TraceURL, r.Model, r.Split)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("writing xlsx row %d: %w", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("writing xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJSON(t *Table) ([]byte, error) {
	out := make([]map[string]any, 0, t.Len())
	for _, r := range t.Rows() {
		obj := map[string]any{
			ColTraceID:  r.TraceID,
			ColGoldLen:  r.GoldLen,
			ColPredLen:  r.PredLen,
			ColTraceURL: r.TraceURL,
			ColModel:    r.Model,
			ColSplit:    r.Split,
		}
		for k, v := range r.Scores {
			obj[k] = v
		}
		out = append(out, obj)
	}
	return json.MarshalIndent(out, "", "  ")
}

// Export encodes the table and writes it to location through fs, which may
// be a local path or any afs URL.
func Export(ctx context.Context, fs afs.Service, location, format string, t *Table) error {
	data, err := Encode(t, format)
	if err != nil {
		return err
	}
	if err := fs.Upload(ctx, URL(location), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", location, err)
	}
	return nil
}

// Read loads an exported table back as records, header first. The format
// follows the file extension.
func Read(ctx context.Context, fs afs.Service, location string) ([][]string, error) {
	data, err := fs.DownloadWithURL(ctx, URL(location))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	return Decode(data, FormatFor(location, ""))
}

// Decode parses an encoded table into records, header first.
func Decode(data []byte, format string) ([][]string, error) {
	switch format {
	case FormatCSV, "":
		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("parsing csv: %w", err)
		}
		return records, nil
	case FormatXLSX:
		return decodeXLSX(data)
	case FormatJSON:
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func decodeXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("parsing xlsx: %w", err)
	}
	if len(rows) == 0 {
		return rows, nil
	}
	// GetRows drops trailing empty cells.
	width := len(rows[0])
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i] = r
	}
	return rows, nil
}

func decodeJSON(data []byte) ([][]string, error) {
	var objs []map[string]any
	if err := json.Unmarshal(data, &objs); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	seen := map[string]bool{}
	var names []string
	for _, o := range objs {
		for k := range o {
			if IsScoreColumn(k) && !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	cols := append(append(append([]string{}, leadColumns...), names...), trailColumns...)

	records := [][]string{cols}
	for _, o := range objs {
		rec := make([]string, len(cols))
		for i, c := range cols {
			switch v := o[c].(type) {
			case nil:
			case string:
				rec[i] = v
			case float64:
				rec[i] = formatFloat(v)
			case bool:
				rec[i] = strconv.FormatBool(v)
			default:
				rec[i] = fmt.Sprint(v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
