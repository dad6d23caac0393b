// Package apiclient is the authenticated client for the infrawiz backend.
// Every request goes through Client.do, which attaches the bearer token,
// maps failures onto core.AppError and retries idempotent reads.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
)

const DefaultBaseURL = "http://localhost:5000"

type Config struct {
	BaseURL         string        `envconfig:"INFRAWIZ_API_BASE_URL" default:"http://localhost:5000"`
	Token           string        `envconfig:"INFRAWIZ_TOKEN"`
	TokenFile       string        `envconfig:"INFRAWIZ_TOKEN_FILE"`
	Timeout         time.Duration `envconfig:"INFRAWIZ_HTTP_TIMEOUT" default:"60s"`
	RetryMaxElapsed time.Duration `envconfig:"INFRAWIZ_RETRY_MAX_ELAPSED" default:"15s"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackOff sets the retry policy used for idempotent requests. The
// factory is called once per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// WithRetryMaxElapsed bounds the total time spent retrying one request.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(c *Client) {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = d
			return b
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     StaticToken(""),
		log:        zap.NewNop(),
	}
	WithRetryMaxElapsed(15 * time.Second)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from cfg. The returned closer releases the
// token file watcher, if any.
func NewFromConfig(cfg Config, log *zap.Logger) (*Client, io.Closer, error) {
	var ts TokenSource = StaticToken(cfg.Token)
	var closer io.Closer = nopCloser{}
	if cfg.Token == "" && cfg.TokenFile != "" {
		fts, err := NewFileTokenSource(cfg.TokenFile, log)
		if err != nil {
			return nil, nil, err
		}
		ts, closer = fts, fts
	}
	c := New(cfg.BaseURL,
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithTokenSource(ts),
		WithLogger(log),
		WithRetryMaxElapsed(cfg.RetryMaxElapsed),
	)
	return c, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// request describes one API call. route is the path template used for
// metrics, path the concrete path.
type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   interface{}
	out    interface{}
	// sink receives the raw response body instead of decoding into out.
	sink io.Writer
}

func (c *Client) get(ctx context.Context, route, path string, query url.Values, out interface{}) error {
	return c.do(ctx, request{method: http.MethodGet, route: route, path: path, query: query, out: out})
}

func (c *Client) post(ctx context.Context, route, path string, body, out interface{}) error {
	return c.do(ctx, request{method: http.MethodPost, route: route, path: path, body: body, out: out})
}

func (c *Client) put(ctx context.Context, route, path string, body, out interface{}) error {
	return c.do(ctx, request{method: http.MethodPut, route: route, path: path, body: body, out: out})
}

func (c *Client) delete(ctx context.Context, route, path string, out interface{}) error {
	return c.do(ctx, request{method: http.MethodDelete, route: route, path: path, out: out})
}

func (c *Client) do(ctx context.Context, r request) error {
	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.route, err)
		}
		payload = b
	}

	start := time.Now()
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			observability.APIRetriesTotal.WithLabelValues(r.route).Inc()
		}
		err := c.once(ctx, r, payload)
		if err == nil {
			return nil
		}
		if r.method != http.MethodGet || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying request",
			zap.String("route", r.route),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	observability.APICallDuration.WithLabelValues(r.route, r.method).Observe(time.Since(start).Seconds())
	observability.APICallsTotal.WithLabelValues(r.route, r.method, outcome(err)).Inc()
	return err
}

func (c *Client) once(ctx context.Context, r request, payload []byte) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", r.route, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &core.AppError{Code: core.ErrUnreachable, Message: core.MsgUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return classify(resp.StatusCode, b)
	}

	if r.sink != nil {
		if _, err := io.Copy(r.sink, resp.Body); err != nil {
			return fmt.Errorf("read %s body: %w", r.route, err)
		}
		return nil
	}
	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s body: %w", r.route, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, r.out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.route, err)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := core.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
