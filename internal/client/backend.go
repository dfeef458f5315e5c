// Package client provides the outbound HTTP client for the dashboard backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"dashboard-proxy/internal/config"
	"dashboard-proxy/internal/metrics"
)

// UserAgent identifies the proxy to the backend.
const UserAgent = "dashboard-proxy/1.0"

const maxRedirects = 10

// BackendClient sends GET requests to the backend with a fixed header set.
// It keeps no response cache: every call reaches the network.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Keeps the transport from adding its own Accept-Encoding header.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport:     transport,
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: stripOriginOnRedirect,
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// RequestHeader returns the complete header set sent with every backend request.
// Origin and Referer are never included: the backend rejects them as cross-origin traffic.
func RequestHeader() http.Header {
	return http.Header{
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},
		"User-Agent":   {UserAgent},
	}
}

// Get issues a GET to rawURL and returns the raw response.
// The caller is responsible for closing the response body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *BackendClient) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = RequestHeader()

	return c.Do(req)
}

// Do executes an HTTP request against the backend and returns the raw response.
func (c *BackendClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}

// stripOriginOnRedirect follows redirects like the default policy but removes
// the Referer the client adds on each hop, and any Origin.
func stripOriginOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after " + strconv.Itoa(maxRedirects) + " redirects")
	}
	req.Header.Del("Referer")
	req.Header.Del("Origin")
	return nil
}
