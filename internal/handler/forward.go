package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"dashboard-proxy/internal/model"
	"dashboard-proxy/internal/service"
)

// Error messages returned in the envelope's "error" field.
const (
	msgConnectionFailed = "Proxy connection failed"
	msgTimedOut         = "Upstream request timed out"
	msgMalformed        = "Malformed upstream response"
)

// ForwardHandler relays GET requests on the catch-all route to the backend.
type ForwardHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(f *service.Forwarder, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		forwarder: f,
		logger:    logger.With("component", "forward_handler"),
	}
}

// Handle forwards the request and writes the backend's JSON, or an error envelope.
func (h *ForwardHandler) Handle(c echo.Context) error {
	req := c.Request()

	segments := pathSegments(req.URL.EscapedPath())
	if len(segments) == 0 {
		return echo.ErrNotFound
	}

	resp, err := h.forwarder.Forward(&model.InboundRequest{
		Ctx:      req.Context(),
		Segments: segments,
		RawQuery: req.URL.RawQuery,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	if len(resp.Body) == 0 {
		return c.NoContent(resp.StatusCode)
	}
	return c.JSONBlob(resp.StatusCode, resp.Body)
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		h.logger.Warn("upstream error", "status", statusErr.StatusCode, "path", path)
		return writeEnvelope(c, statusErr.StatusCode, model.Envelope{
			Error:   fmt.Sprintf("Upstream error: %d", statusErr.StatusCode),
			Details: statusErr.Body,
		})
	}

	var malformed *service.MalformedBodyError
	if errors.As(err, &malformed) || errors.Is(err, service.ErrResponseTooLarge) {
		h.logger.Error("unusable upstream body", "err", err, "path", path)
		return writeEnvelope(c, http.StatusBadGateway, model.Envelope{
			Error:   msgMalformed,
			Details: err.Error(),
		})
	}

	if errors.Is(err, context.Canceled) {
		// Nobody is left to read the response.
		h.logger.Info("client disconnected", "path", path)
	} else {
		h.logger.Error("proxy connection failed", "err", err, "path", path)
	}

	var transportErr *service.TransportError
	if errors.As(err, &transportErr) && transportErr.Timeout() {
		return writeEnvelope(c, http.StatusGatewayTimeout, model.Envelope{
			Error:   msgTimedOut,
			Details: err.Error(),
		})
	}

	return writeEnvelope(c, http.StatusInternalServerError, model.Envelope{
		Error:   msgConnectionFailed,
		Details: err.Error(),
	})
}

// writeEnvelope writes env as JSON unless the status forbids a body (1xx, 204, 304).
// HTML escaping is off so upstream text in details reaches the caller unchanged.
func writeEnvelope(c echo.Context, status int, env model.Envelope) error {
	if status < http.StatusOK || status == http.StatusNoContent || status == http.StatusNotModified {
		return c.NoContent(status)
	}
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	resp.WriteHeader(status)
	enc := json.NewEncoder(resp)
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

// pathSegments returns the non-empty segments after /api/v1/, still escaped.
func pathSegments(escapedPath string) []string {
	tail, ok := strings.CutPrefix(escapedPath, service.APIPrefix)
	if !ok {
		return nil
	}

	var segments []string
	for s := range strings.SplitSeq(tail, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
