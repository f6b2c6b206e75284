package langfuse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// MaxPageLimit is the largest page size the traces endpoint accepts.
const MaxPageLimit = 100

// Trace is one record from the traces listing. Payloads are kept loosely
// typed because generators write whatever JSON they like into them.
type Trace struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Timestamp string   `json:"timestamp"`
	Input     any      `json:"input"`
	Output    any      `json:"output"`
	Metadata  any      `json:"metadata"`
	HTMLPath  string   `json:"htmlPath"`
	Tags      []string `json:"tags"`
}

// OutputText returns output[key] as a string; see Text.
func (t Trace) OutputText(key string) string { return Text(field(t.Output, key)) }

// InputText returns input[key] as a string; see Text.
func (t Trace) InputText(key string) string { return Text(field(t.Input, key)) }

// MetadataText returns metadata[key] as a string; see Text.
func (t Trace) MetadataText(key string) string { return Text(field(t.Metadata, key)) }

func field(payload any, key string) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// Text renders a JSON value as text. Missing and falsy values (null, "",
// false, 0, empty arrays and objects) become the empty string; other scalars
// are formatted and composite values are re-encoded as JSON.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if !x {
			return ""
		}
		return "true"
	case float64:
		if x == 0 {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		if f, err := x.Float64(); err == nil && f == 0 {
			return ""
		}
		return x.String()
	case []any:
		if len(x) == 0 {
			return ""
		}
	case map[string]any:
		if len(x) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// TraceQuery selects one page of traces with a given name, keeping only
// those tagged with Dataset in their metadata.
type TraceQuery struct {
	Name    string
	Dataset string
	// Tags are passed to the API; a trace must carry all of them.
	Tags  []string
	Page  int
	Limit int
}

// PageBatch is the result of one page fetch.
type PageBatch struct {
	// Traces are the records of the page that belong to the dataset.
	Traces []Trace
	// RawCount is the number of records on the page before filtering.
	RawCount int
	// TotalPages as reported by the server, or Page when it reported none.
	TotalPages int
	Page       int
}

// Last reports whether no page follows this one.
func (b *PageBatch) Last() bool {
	return b.RawCount == 0 || b.Page >= b.TotalPages
}

type tracesResponse struct {
	Data []Trace `json:"data"`
	Meta struct {
		TotalPages *int `json:"totalPages"`
	} `json:"meta"`
}

// FetchPage lists one page of traces. A 429 is retried after the
// Retry-After delay up to the client's retry bound; every other non-2xx
// status fails with a *StatusError. The dataset filter is applied here
// because the API cannot filter on metadata.
func (c *Client) FetchPage(ctx context.Context, q TraceQuery) (*PageBatch, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	query := url.Values{}
	query.Set("name", q.Name)
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	for _, tag := range q.Tags {
		query.Add("tags", tag)
	}

	var resp tracesResponse
	if _, err := c.do(ctx, "GET", tracesPath, query, nil, &resp, retryRateLimit); err != nil {
		return nil, fmt.Errorf("fetching traces page %d: %w", page, err)
	}

	batch := &PageBatch{
		RawCount:   len(resp.Data),
		TotalPages: page,
		Page:       page,
	}
	if resp.Meta.TotalPages != nil {
		batch.TotalPages = *resp.Meta.TotalPages
	}
	for _, t := range resp.Data {
		if t.MetadataText("dataset") == q.Dataset {
			batch.Traces = append(batch.Traces, t)
		}
	}
	c.logger.Debugf("langfuse: page %d/%d: %d traces, %d in dataset %q",
		page, batch.TotalPages, batch.RawCount, len(batch.Traces), q.Dataset)
	return batch, nil
}
