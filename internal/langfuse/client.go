// Package langfuse is a small client for the parts of the Langfuse public
// API the evaluator needs: listing traces, ingesting scores and managing
// score configs.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalnine/tracescore/internal/log"
)

const (
	tracesPath       = "/api/public/traces"
	ingestionPath    = "/api/public/ingestion"
	scoreConfigsPath = "/api/public/score-configs"

	DefaultRetryAfter = 2 * time.Second
	DefaultTimeout    = 60 * time.Second
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to one Langfuse host with one key pair. It is safe for
// concurrent use.
type Client struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client

	maxRetries  int
	retryAfter  time.Duration
	minInterval time.Duration
	onRetry     func(err error, wait time.Duration)
	logger      log.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries bounds how many times a rate-limited request is retried.
// Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		if n >= 0 {
			cl.maxRetries = n
		}
	}
}

// WithRetryAfterDefault is the wait used when a 429 carries no usable
// Retry-After header.
func WithRetryAfterDefault(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.retryAfter = d
		}
	}
}

// WithBackoffInterval sets the initial exponential interval used for
// retryable failures that carry no server-suggested delay.
func WithBackoffInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.minInterval = d
		}
	}
}

// WithRetryHook is called before every retry wait.
func WithRetryHook(fn func(err error, wait time.Duration)) Option {
	return func(cl *Client) { cl.onRetry = fn }
}

func WithLogger(l log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New returns a client for host authenticated with the public/secret key
// pair using HTTP Basic auth.
func New(host, publicKey, secretKey string, opts ...Option) *Client {
	c := &Client{
		host:      strings.TrimRight(host, "/"),
		publicKey: publicKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries:  1,
		retryAfter:  DefaultRetryAfter,
		minInterval: 500 * time.Millisecond,
		logger:      log.Default,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Host is the base URL the client talks to, without a trailing slash.
func (c *Client) Host() string { return c.host }

// TraceURL builds the human-viewable URL of a trace from its htmlPath.
func (c *Client) TraceURL(t Trace) string {
	return c.host + t.HTMLPath
}

// retryClass says whether a failed response may be retried.
type retryClass int

const (
	retryNever retryClass = iota
	// retryRateLimit retries 429 only.
	retryRateLimit
	// retryServer also retries 5xx responses.
	retryServer
)

// do sends one request, retrying per class, and decodes a 2xx JSON body into
// out when out is non-nil. The returned status is the final response's.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any, class retryClass) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minInterval
	b.MaxInterval = 30 * time.Second

	var last *StatusError
	op := func() (int, error) {
		req, err := c.newRequest(ctx, method, path, query, payload)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if class == retryServer && ctx.Err() == nil {
				return 0, err
			}
			return 0, backoff.Permanent(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
					return resp.StatusCode, backoff.Permanent(fmt.Errorf("decoding %s response: %w", path, err))
				}
			}
			return resp.StatusCode, nil
		}

		last = &StatusError{
			Method:     method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       excerpt(resp.Body),
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests && class != retryNever:
			return resp.StatusCode, &backoff.RetryAfterError{Duration: c.retryAfterFrom(resp.Header)}
		case resp.StatusCode >= 500 && class == retryServer:
			return resp.StatusCode, last
		default:
			return resp.StatusCode, backoff.Permanent(last)
		}
	}

	status, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if last != nil {
				err = last
			}
			c.logger.Warnf("langfuse: %s %s failed (%v), retrying in %s", method, path, err, wait)
			if c.onRetry != nil {
				c.onRetry(err, wait)
			}
		}),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) && last != nil {
			return status, last
		}
		return status, err
	}
	return status, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// retryAfterFrom reads a Retry-After header given in whole seconds.
func (c *Client) retryAfterFrom(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return c.retryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return c.retryAfter
	}
	return time.Duration(secs) * time.Second
}

func excerpt(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
