package langfuse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// scoreNamespace seeds the name-based score ids, so writing the same score
// name to the same trace again replaces the earlier value.
var scoreNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tracescore/score"))

// ScoreID is the deterministic id of score name on trace traceID.
func ScoreID(traceID, name string) string {
	return uuid.NewSHA1(scoreNamespace, []byte(traceID+"/"+name)).String()
}

// Score is a numeric score attached to a trace.
type Score struct {
	TraceID string
	Name    string
	Value   float64
}

// TraceWriteError reports that the scores of one trace were not stored.
type TraceWriteError struct {
	TraceID string
	Err     error
}

func (e *TraceWriteError) Error() string {
	return fmt.Sprintf("writing scores for trace %s: %v", e.TraceID, e.Err)
}

func (e *TraceWriteError) Unwrap() error { return e.Err }

// FailedTraceIDs lists the trace ids named by the TraceWriteErrors in err.
func FailedTraceIDs(err error) []string {
	if err == nil {
		return nil
	}
	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	} else {
		errs = []error{err}
	}
	var ids []string
	for _, e := range errs {
		var twe *TraceWriteError
		if errors.As(e, &twe) {
			ids = append(ids, twe.TraceID)
		}
	}
	return ids
}

// ScoreBatch buffers scores until Flush. All scores of one trace are sent
// in a single ingestion request, so a trace is either fully written or
// reported as failed.
type ScoreBatch struct {
	client *Client

	mu      sync.Mutex
	order   []string
	pending map[string][]Score
}

func (c *Client) NewScoreBatch() *ScoreBatch {
	return &ScoreBatch{client: c, pending: map[string][]Score{}}
}

// AddScore queues a score. Adding the same name twice for a trace before a
// flush keeps the later value.
func (b *ScoreBatch) AddScore(traceID, name string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scores, ok := b.pending[traceID]
	if !ok {
		b.order = append(b.order, traceID)
	}
	for i := range scores {
		if scores[i].Name == name {
			scores[i].Value = value
			return
		}
	}
	b.pending[traceID] = append(scores, Score{TraceID: traceID, Name: name, Value: value})
}

// Pending is the number of traces waiting to be flushed.
func (b *ScoreBatch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Flush sends every queued trace and empties the batch. Failures do not stop
// the remaining traces; they are returned as a *multierror.Error of
// *TraceWriteError values.
func (b *ScoreBatch) Flush(ctx context.Context) error {
	b.mu.Lock()
	order, pending := b.order, b.pending
	b.order, b.pending = nil, map[string][]Score{}
	b.mu.Unlock()

	var result *multierror.Error
	for _, traceID := range order {
		if err := b.client.ingest(ctx, pending[traceID]); err != nil {
			result = multierror.Append(result, &TraceWriteError{TraceID: traceID, Err: err})
		}
	}
	return result.ErrorOrNil()
}

type ingestionEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Body      map[string]any `json:"body"`
}

type ingestionResponse struct {
	Successes []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"successes"`
	Errors []struct {
		ID      string `json:"id"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ingest posts one score-create event per score in a single batch. 429 and
// 5xx responses are retried; per-event errors in a 207 response fail the
// whole call.
func (c *Client) ingest(ctx context.Context, scores []Score) error {
	if len(scores) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	events := make([]ingestionEvent, 0, len(scores))
	for _, s := range scores {
		events = append(events, ingestionEvent{
			ID:        uuid.NewString(),
			Timestamp: now,
			Type:      "score-create",
			Body: map[string]any{
				"id":       ScoreID(s.TraceID, s.Name),
				"traceId":  s.TraceID,
				"name":     s.Name,
				"value":    s.Value,
				"dataType": "NUMERIC",
			},
		})
	}

	var resp ingestionResponse
	body := map[string]any{"batch": events}
	if _, err := c.do(ctx, "POST", ingestionPath, nil, body, &resp, retryServer); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, fmt.Sprintf("event %s: %d %s", e.ID, e.Status, e.Message))
		}
		return fmt.Errorf("%d of %d score events rejected: %s",
			len(resp.Errors), len(events), strings.Join(msgs, "; "))
	}
	return nil
}
