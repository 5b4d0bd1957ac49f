// Package agentapi provides the HTTP client for the remote agent service:
// it opens the streaming pattern endpoints and probes service health.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/patternwatch/internal/logger"
	"github.com/Strob0t/patternwatch/internal/port/agentstream"
	"github.com/Strob0t/patternwatch/internal/resilience"
)

var (
	_ agentstream.Transport     = (*Client)(nil)
	_ agentstream.HealthChecker = (*Client)(nil)
)

// maxErrorBody caps how much of a non-2xx reply is read for logging.
const maxErrorBody = 4 << 10

// Client talks to the agent service.
type Client struct {
	baseURL      string
	streamClient *http.Client // no overall timeout; the stream is long-lived
	httpClient   *http.Client
	breaker      *resilience.Breaker
}

// NewClient creates a client for the agent service at baseURL.
// headerTimeout bounds the wait for response headers of a stream (0 = none).
func NewClient(baseURL string, headerTimeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		streamClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to stream opening.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type taskRequest struct {
	Task string `json:"task"`
}

// Open starts a pattern run and returns the event-stream body. A non-2xx
// reply is returned as *agentstream.StatusError. Cancelling ctx closes the
// body.
func (c *Client) Open(ctx context.Context, pattern, task string) (io.ReadCloser, error) {
	body, err := json.Marshal(taskRequest{Task: task})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	var stream io.ReadCloser
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+pattern, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.streamClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			return &agentstream.StatusError{Code: resp.StatusCode, Status: statusText(resp)}
		}
		stream = resp.Body
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.ExecuteContext(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", pattern, err)
	}
	return stream, nil
}

// Health probes GET /api/health.
func (c *Client) Health(ctx context.Context) (agentstream.Health, error) {
	var h agentstream.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", http.NoBody)
	if err != nil {
		return h, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return h, fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return h, &agentstream.StatusError{Code: resp.StatusCode, Status: statusText(resp)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// statusText returns the reason phrase without the numeric prefix.
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok && text != "" {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return "unknown status"
}
