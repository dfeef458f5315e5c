// Package model defines shared types for the proxy.
package model

import (
	"context"
	"encoding/json"
)

// InboundRequest is a GET request accepted on the catch-all route.
// Segments are the escaped, non-empty path segments after /api/v1/ in order;
// RawQuery is the query string exactly as the client sent it.
type InboundRequest struct {
	Ctx      context.Context
	Segments []string
	RawQuery string
}

// UpstreamResponse is a successful (2xx) upstream reply whose body is valid JSON.
// Body is nil when the upstream sent no content.
type UpstreamResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// Envelope is the JSON body returned to the caller for every failure.
type Envelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}
