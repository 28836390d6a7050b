// Package client provides the HTTP page loader: one GET per page against a
// list endpoint answering with a JSON array of records.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/metrics"
	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for page fetches.
var (
	pageRequestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_page_requests_total",
		Help: "Total page requests by endpoint and status",
	}, []string{"endpoint", "status"})

	pageRequestDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrollfeed_page_request_duration_seconds",
		Help:    "Page request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	pageErrorsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_page_errors_total",
		Help: "Total page fetch failures by class",
	}, []string{"class"})
)

const tracerName = "github.com/Sternrassler/scrollfeed/pkg/client"

// Client fetches pages from a list endpoint.
type Client struct {
	httpClient  *http.Client
	endpoint    *url.URL
	rateLimiter *ratelimit.Tracker
	tracer      trace.Tracer
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the absolute list URL, e.g. "https://jsonplaceholder.typicode.com/posts".
	Endpoint string

	// UserAgent header sent with every request.
	UserAgent string

	// Query parameter names carrying the page size and index.
	LimitParam string
	PageParam  string

	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration

	// HTTPClient overrides the transport (Timeout is then ignored).
	HTTPClient *http.Client

	// RateLimiter gates requests on the upstream budget (optional).
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns the configuration for a plain limit/page endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:   endpoint,
		UserAgent:  "scrollfeed/0.1.0",
		LimitParam: "limit",
		PageParam:  "page",
	}
}

// New creates a new page loader.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("endpoint must be an absolute http(s) URL (got %q)", cfg.Endpoint)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}

	if cfg.LimitParam == "" || cfg.PageParam == "" {
		return nil, fmt.Errorf("limit and page parameter names are required")
	}
	if cfg.LimitParam == cfg.PageParam {
		return nil, fmt.Errorf("limit and page parameter names must differ (both %q)", cfg.LimitParam)
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient:  httpClient,
		endpoint:    endpoint,
		rateLimiter: cfg.RateLimiter,
		tracer:      otel.Tracer(tracerName),
		config:      cfg,
		logger:      log.With().Str("component", "page-loader").Str("host", endpoint.Host).Logger(),
	}, nil
}

// URL returns the request URL for a page. Query parameters already present
// on the endpoint are preserved.
func (c *Client) URL(req pagination.PageRequest) string {
	u := *c.endpoint
	q := u.Query()
	q.Set(c.config.LimitParam, strconv.Itoa(req.Size))
	q.Set(c.config.PageParam, strconv.Itoa(req.Page))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage performs exactly one GET for the requested page and decodes the
// record array. An empty array yields an empty Result (end of data). Every
// failure is a *FetchError matching ErrFetchFailed.
func (c *Client) FetchPage(ctx context.Context, req pagination.PageRequest) (pagination.Result, error) {
	if err := req.Validate(); err != nil {
		pageErrorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			ErrorClass: ErrorClassClient,
			Message:    "invalid page request",
			Err:        err,
		}
	}

	endpoint := c.endpoint.Path
	host := c.endpoint.Host

	ctx, span := c.tracer.Start(ctx, "FetchPage", trace.WithAttributes(
		attribute.String("http.host", host),
		attribute.Int("page.index", req.Page),
		attribute.Int("page.size", req.Size),
	))
	defer span.End()

	result, err := c.fetch(ctx, req, endpoint, host)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page fetch failed")
		var fe *FetchError
		if errors.As(err, &fe) {
			pageErrorsTotal.WithLabelValues(string(fe.ErrorClass)).Inc()
		}
		return pagination.Result{}, err
	}

	span.SetAttributes(attribute.Int("page.records", len(result.Records)))
	return result, nil
}

func (c *Client) fetch(ctx context.Context, req pagination.PageRequest, endpoint, host string) (pagination.Result, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Allow(ctx, host); err != nil {
			pageRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return pagination.Result{}, &FetchError{
				Page:       req.Page,
				ErrorClass: ErrorClassRateLimit,
				Message:    "blocked before sending",
				Err:        err,
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(req), nil)
	if err != nil {
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			ErrorClass: ErrorClassNetwork,
			Message:    "create request",
			Err:        err,
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", req.Page).
		Int("size", req.Size).
		Msg("Fetching page")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	pageRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Int("page", req.Page).Msg("HTTP request failed")
		pageRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	pageRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, host, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errClass := classifyStatus(resp.StatusCode)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("page", req.Page).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Page request error")

		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	records, err := pagination.DecodeRecords(body)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Int("page", req.Page).Msg("Malformed page body")
		return pagination.Result{}, &FetchError{
			Page:       req.Page,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode records",
			Err:        err,
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", req.Page).
		Int("records", len(records)).
		Msg("Page fetched")

	return pagination.Result{Request: req, Records: records}, nil
}
