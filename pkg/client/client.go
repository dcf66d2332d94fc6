// Package client provides the GtR HTTP client: single-page fetching with
// error classification, optional retry, and request metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/researchpipe/gtr-fetch/pkg/logging"
)

// DefaultBaseURL is the public GtR API root.
const DefaultBaseURL = "https://gtr.ukri.org/gtr/api"

// acceptHeader pins the GtR JSON response version.
const acceptHeader = "application/vnd.rcuk.gtr.json-v7"

// Prometheus metrics for GtR client operations.
var (
	gtrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtr_requests_total",
		Help: "Total GtR requests by endpoint and status",
	}, []string{"endpoint", "status"})

	gtrRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gtr_request_duration_seconds",
		Help:    "GtR request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	gtrErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtr_errors_total",
		Help: "Total GtR errors by class",
	}, []string{"class"})
)

// Page is one decoded response of a paginated GtR listing. The record
// collection stays inside Body under the endpoint's record key; extraction
// is the extractor's job, not the client's.
type Page struct {
	// Number is the 1-based page number that was requested.
	Number int

	// TotalPages is the total page count reported by this page's envelope
	// (0 when the envelope omits it).
	TotalPages int

	// Body is the full decoded response envelope.
	Body map[string]any
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// UserAgent identifies the caller to the upstream API.
	UserAgent string

	// PageSize is the `s` query parameter (default 100, the GtR maximum).
	PageSize int

	// Timeout per HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after a retriable
	// failure. 0 disables retry; the page-fetch contract is unchanged
	// either way.
	MaxRetries int

	// InitialBackoff overrides the first retry delay (default 1s).
	InitialBackoff time.Duration

	// HTTPClient overrides the underlying HTTP client (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserAgent:  "gtr-fetch/1.0",
		PageSize:   100,
		Timeout:    60 * time.Second,
		MaxRetries: 2,
	}
}

// Client fetches pages from the GtR API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new GtR client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive (got %d)", cfg.PageSize)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger("gtr-client"),
	}, nil
}

// FetchPage performs one API call for the given endpoint and 1-based page
// number and returns the decoded envelope with its total-page count.
func (c *Client) FetchPage(ctx context.Context, endpoint string, page int) (*Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("page number must be >= 1 (got %d)", page)
	}

	start := time.Now()
	defer func() {
		gtrRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var result *Page
	var errClass ErrorClass

	retryCfg := DefaultRetryConfig()
	retryCfg.MaxAttempts = 1 + c.config.MaxRetries
	if c.config.InitialBackoff > 0 {
		retryCfg.InitialBackoff = c.config.InitialBackoff
	}

	err := retryWithBackoff(ctx, retryCfg, func() error {
		p, class, err := c.fetchOnce(ctx, endpoint, page)
		if err != nil {
			errClass = class
			gtrErrorsTotal.WithLabelValues(string(class)).Inc()
			return err
		}
		result = p
		return nil
	}, func() ErrorClass {
		return errClass
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// fetchOnce performs a single request attempt.
func (c *Client) fetchOnce(ctx context.Context, endpoint string, page int) (*Page, ErrorClass, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(endpoint, page), nil)
	if err != nil {
		return nil, ErrorClassNetwork, &FetchError{
			Endpoint:   endpoint,
			Page:       page,
			ErrorClass: ErrorClassNetwork,
			Message:    "create request",
			Err:        err,
		}
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Int("page", page).Msg("HTTP request failed")
		gtrRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, ErrorClassNetwork, &FetchError{
			Endpoint:   endpoint,
			Page:       page,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	gtrRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("GtR request error")

		return nil, class, &FetchError{
			Endpoint:   endpoint,
			Page:       page,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ErrorClassNetwork, &FetchError{
			Endpoint:   endpoint,
			Page:       page,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "decode response",
			Err:        err,
		}
	}

	return &Page{
		Number:     page,
		TotalPages: totalPages(body),
		Body:       body,
	}, "", nil
}

// pageURL builds `{base}/{endpoint}?s={size}&p={page}`.
func (c *Client) pageURL(endpoint string, page int) string {
	q := url.Values{}
	q.Set("s", strconv.Itoa(c.config.PageSize))
	q.Set("p", strconv.Itoa(page))
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.config.BaseURL, "/"), endpoint, q.Encode())
}

// totalPages reads the envelope's totalPages field, tolerating the number
// arriving as a JSON number or string.
func totalPages(body map[string]any) int {
	switch v := body["totalPages"].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}
