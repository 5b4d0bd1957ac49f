// Package agentstream defines the port for opening the event stream of a
// remote agent pattern run.
package agentstream

import (
	"context"
	"fmt"
	"io"
)

// Transport opens the streaming response for one run. The returned body
// yields raw SSE bytes and must be closed by the caller. Cancelling ctx
// aborts the request.
type Transport interface {
	Open(ctx context.Context, pattern, task string) (io.ReadCloser, error)
}

// StatusError reports a non-2xx reply from the agent service.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Health is the agent service health report.
type Health struct {
	Status    string `json:"status"`
	HasAPIKey bool   `json:"hasApiKey"`
}

// HealthChecker probes the agent service.
type HealthChecker interface {
	Health(ctx context.Context) (Health, error)
}
