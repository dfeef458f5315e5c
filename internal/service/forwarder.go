// Package service implements the core request forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"dashboard-proxy/internal/client"
	"dashboard-proxy/internal/config"
	"dashboard-proxy/internal/metrics"
	"dashboard-proxy/internal/model"
)

// APIPrefix is the path prefix shared by inbound and upstream URLs.
const APIPrefix = "/api/v1/"

// ErrResponseTooLarge is returned when a success body exceeds upstream.max_response_size.
var ErrResponseTooLarge = errors.New("upstream response too large")

// TransportError means the backend could not be reached or the exchange broke
// off before a complete response was read.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the exchange ran out of time after the connection to
// the backend was established, or the whole request deadline expired. A dial
// that times out means the backend is unreachable and is not a timeout here.
func (e *TransportError) Timeout() bool {
	var opErr *net.OpError
	if errors.As(e.Err, &opErr) && opErr.Op == "dial" {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// UpstreamStatusError is a non-2xx backend reply. Body holds the raw response text.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// MalformedBodyError is a 2xx backend reply whose body is not JSON.
type MalformedBodyError struct {
	StatusCode int
	Err        error
}

func (e *MalformedBodyError) Error() string {
	return fmt.Sprintf("upstream status %d body is not valid JSON: %v", e.StatusCode, e.Err)
}

func (e *MalformedBodyError) Unwrap() error { return e.Err }

// Forwarder turns an inbound request into exactly one backend call.
type Forwarder struct {
	client   *client.BackendClient
	origin   string
	maxBytes int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewForwarder creates a Forwarder for the backend origin named in cfg.
// The metrics parameter is optional.
func NewForwarder(c *client.BackendClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		client:   c,
		origin:   strings.TrimRight(cfg.Backend.URL, "/"),
		maxBytes: cfg.Upstream.MaxResponseBytes(),
		logger:   logger.With("component", "forwarder"),
		metrics:  m,
	}
}

// Origin returns the backend origin requests are forwarded to.
func (f *Forwarder) Origin() string {
	return f.origin
}

// BuildUpstreamURL joins the segments onto origin + /api/v1/ and appends
// rawQuery after "?" when it is non-empty. Nothing is re-encoded.
func (f *Forwarder) BuildUpstreamURL(segments []string, rawQuery string) string {
	u := f.origin + APIPrefix + strings.Join(segments, "/")
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Forward sends req to the backend and classifies the outcome. On success the
// returned body is the backend's JSON, byte for byte. Failures are one of
// *TransportError, *UpstreamStatusError, *MalformedBodyError or ErrResponseTooLarge.
func (f *Forwarder) Forward(req *model.InboundRequest) (*model.UpstreamResponse, error) {
	target := f.BuildUpstreamURL(req.Segments, req.RawQuery)

	f.logger.Info("forwarding request", "url", target)

	resp, err := f.client.Get(req.Ctx, target)
	if err != nil {
		f.observe(metrics.OutcomeTransport)
		return nil, &TransportError{URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	f.logger.Info("upstream response", "url", target, "status", resp.StatusCode)

	body, readErr := readLimited(resp.Body, f.maxBytes)
	if readErr != nil && !errors.Is(readErr, ErrResponseTooLarge) {
		f.observe(metrics.OutcomeTransport)
		return nil, &TransportError{URL: target, Err: fmt.Errorf("read upstream body: %w", readErr)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		f.observe(metrics.OutcomeStatus)
		// An oversized error body is relayed truncated.
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if readErr != nil {
		f.observe(metrics.OutcomeMalformed)
		return nil, fmt.Errorf("%w: limit is %s", readErr, humanize.Bytes(uint64(f.maxBytes)))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		f.observe(metrics.OutcomeSuccess)
		return &model.UpstreamResponse{StatusCode: resp.StatusCode}, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		f.observe(metrics.OutcomeMalformed)
		return nil, &MalformedBodyError{StatusCode: resp.StatusCode, Err: err}
	}

	f.observe(metrics.OutcomeSuccess)
	return &model.UpstreamResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

func (f *Forwarder) observe(outcome string) {
	if f.metrics != nil {
		f.metrics.UpstreamOutcomes.WithLabelValues(outcome).Inc()
	}
}

// readLimited reads at most limit bytes. If the body is longer it returns the
// first limit bytes together with ErrResponseTooLarge.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return body[:limit], ErrResponseTooLarge
	}
	return body, nil
}
