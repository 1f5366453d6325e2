package koha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/logging"
	"github.com/studiowebux/kohaload/internal/metrics"
)

const (
	// APIPath is appended to the staff URL to reach the REST API
	APIPath = "/api/v1"

	ContentTypeJSON       = "application/json"
	ContentTypeMARCInJSON = "application/marc-in-json"
)

var (
	// ErrUnexpectedStatus is returned when the API answers with a status the scenario does not expect
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrMissingField is returned when a response lacks an identifier field
	ErrMissingField = errors.New("response missing field")
)

// StatusError carries the details of an unexpected API answer
type StatusError struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s %d: %s", e.Method, e.Endpoint, ErrUnexpectedStatus, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to the Koha REST API with basic auth credentials embedded in its base URL
type Client struct {
	apiBase *url.URL
	http    *http.Client
	checks  *check.Recorder
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client (defaults to a small pooled client)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithChecks sets the recorder that receives API checks
func WithChecks(r *check.Recorder) Option {
	return func(c *Client) { c.checks = r }
}

// WithMetrics sets the collector that receives request durations
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the API under staffURL
func NewClient(staffURL, user, pass string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(staffURL))
	if err != nil {
		return nil, fmt.Errorf("invalid staff URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid staff URL %q: scheme and host are required", staffURL)
	}
	u.User = url.UserPassword(user, pass)
	u.Path = strings.TrimRight(u.Path, "/") + APIPath
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{apiBase: u}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		hc, err := BuildHTTPClient(1, DefaultRequestTimeout, nil)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}
	if c.checks == nil {
		c.checks = check.NewRecorder()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c, nil
}

// APIURL returns the API base URL including credentials
func (c *Client) APIURL() string {
	return c.apiBase.String()
}

// Checks returns the recorder receiving this client's checks
func (c *Client) Checks() *check.Recorder {
	return c.checks
}

type response struct {
	Status int
	Body   []byte
}

// do sends one request. endpoint is the metrics label; path is the concrete path below /api/v1.
func (c *Client) do(ctx context.Context, method, endpoint, path, contentType string, payload []byte) (*response, error) {
	target := *c.apiBase
	target.Path = c.apiBase.Path + path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		target.Path = c.apiBase.Path + path[:i]
		target.RawQuery = path[i+1:]
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	// The user info in target makes net/http send the basic auth header
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentTypeJSON)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveAPI(endpoint, method, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.ObserveAPI(endpoint, method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &response{Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) statusError(method, endpoint string, res *response) error {
	return &StatusError{Method: method, Endpoint: endpoint, Status: res.Status, Body: string(res.Body)}
}
