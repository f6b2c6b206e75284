package langfuse

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/signalnine/tracescore/internal/config"
)

type scoreConfigRecord struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	DataType    string   `json:"dataType"`
	MinValue    *float64 `json:"minValue,omitempty"`
	MaxValue    *float64 `json:"maxValue,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ScoreConfigOutcome is what EnsureScoreConfigs did for one config.
type ScoreConfigOutcome struct {
	Name    string
	Created bool
	Err     error
}

// ScoreConfigNames lists the names of the score configs in the project.
func (c *Client) ScoreConfigNames(ctx context.Context) (map[string]bool, error) {
	names := map[string]bool{}
	for page := 1; ; page++ {
		var resp struct {
			Data []scoreConfigRecord `json:"data"`
			Meta struct {
				TotalPages int `json:"totalPages"`
			} `json:"meta"`
		}
		query := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(MaxPageLimit)}}
		if _, err := c.do(ctx, "GET", scoreConfigsPath, query, nil, &resp, retryRateLimit); err != nil {
			return nil, fmt.Errorf("listing score configs: %w", err)
		}
		for _, sc := range resp.Data {
			names[sc.Name] = true
		}
		if len(resp.Data) == 0 || page >= resp.Meta.TotalPages {
			return names, nil
		}
	}
}

// EnsureScoreConfigs creates every config whose name does not exist yet.
// It never fails as a whole; each config gets an outcome and callers decide
// whether a failure matters.
func (c *Client) EnsureScoreConfigs(ctx context.Context, configs []config.ScoreConfig) []ScoreConfigOutcome {
	if len(configs) == 0 {
		return nil
	}
	outcomes := make([]ScoreConfigOutcome, 0, len(configs))
	existing, err := c.ScoreConfigNames(ctx)
	if err != nil {
		for _, sc := range configs {
			outcomes = append(outcomes, ScoreConfigOutcome{Name: sc.Name, Err: err})
		}
		return outcomes
	}
	for _, sc := range configs {
		out := ScoreConfigOutcome{Name: sc.Name}
		if !existing[sc.Name] {
			rec := scoreConfigRecord{
				Name:        sc.Name,
				DataType:    sc.DataType,
				MinValue:    sc.MinValue,
				MaxValue:    sc.MaxValue,
				Description: sc.Description,
			}
			if rec.DataType == "" {
				rec.DataType = "NUMERIC"
			}
			if _, err := c.do(ctx, "POST", scoreConfigsPath, nil, rec, nil, retryRateLimit); err != nil {
				out.Err = fmt.Errorf("creating score config %q: %w", sc.Name, err)
			} else {
				out.Created = true
				existing[sc.Name] = true
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}
