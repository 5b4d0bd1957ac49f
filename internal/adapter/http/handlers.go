package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/patternwatch/internal/adapter/ws"
	"github.com/Strob0t/patternwatch/internal/config"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/port/agentstream"
	"github.com/Strob0t/patternwatch/internal/port/messagequeue"
	"github.com/Strob0t/patternwatch/internal/resilience"
	"github.com/Strob0t/patternwatch/internal/service"
)

const healthProbeTimeout = 3 * time.Second

// Handlers holds the HTTP handler dependencies. Remote, Breaker and Queue
// are optional.
type Handlers struct {
	Registry *service.Registry
	Results  *service.ResultsService
	LiveView *ws.LiveView
	Remote   agentstream.HealthChecker
	Breaker  *resilience.Breaker
	Queue    messagequeue.Queue
	Limits   config.Limits
	Version  string
}

// submitRequest is the body of a submit call.
type submitRequest struct {
	Task string `json:"task"`
}

// PatternStatus is one entry of the pattern list.
type PatternStatus struct {
	Pattern   session.Pattern `json:"pattern"`
	State     session.State   `json:"state"`
	SessionID string          `json:"sessionId,omitempty"`
	Version   uint64          `json:"version,omitempty"`
}

// AbortResponse reports the outcome of an abort call.
type AbortResponse struct {
	Aborted bool          `json:"aborted"`
	State   session.State `json:"state"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version,omitempty"`
	Remote  *agentstream.Health `json:"remote,omitempty"`
	Error   string              `json:"remoteError,omitempty"`
	Breaker resilience.State    `json:"breaker,omitempty"`
	NATS    *bool               `json:"nats,omitempty"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: h.Version}

	if h.Remote != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		remote, err := h.Remote.Health(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
		} else {
			resp.Remote = &remote
		}
	}
	if h.Breaker != nil {
		resp.Breaker = h.Breaker.State()
		if resp.Breaker == resilience.StateOpen {
			resp.Status = "degraded"
		}
	}
	if h.Queue != nil {
		connected := h.Queue.IsConnected()
		resp.NATS = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPatterns handles GET /api/v1/patterns
func (h *Handlers) ListPatterns(w http.ResponseWriter, _ *http.Request) {
	patterns := h.Registry.Patterns()
	out := make([]PatternStatus, 0, len(patterns))
	for _, p := range patterns {
		st := PatternStatus{Pattern: p, State: session.StateIdle}
		if d, err := h.Registry.Driver(p); err == nil {
			if snap, err := d.Snapshot(); err == nil {
				st.State = snap.State
				st.SessionID = snap.ID
				st.Version = snap.Version
			}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// Submit handles POST /api/v1/patterns/{pattern}/submit
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	d, err := h.Registry.Driver(session.Pattern(urlParam(r, "pattern")))
	if err != nil {
		writeDomainError(w, err, "pattern not found")
		return
	}

	req, ok := readJSON[submitRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}

	snap, err := d.Submit(r.Context(), req.Task)
	if err != nil {
		writeDomainError(w, err, "pattern not found")
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// Abort handles POST /api/v1/patterns/{pattern}/abort
func (h *Handlers) Abort(w http.ResponseWriter, r *http.Request) {
	d, err := h.Registry.Driver(session.Pattern(urlParam(r, "pattern")))
	if err != nil {
		writeDomainError(w, err, "pattern not found")
		return
	}
	aborted := d.Abort()
	resp := AbortResponse{Aborted: aborted, State: session.StateIdle}
	if snap, err := d.Snapshot(); err == nil {
		resp.State = snap.State
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /api/v1/patterns/{pattern}/session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	d, err := h.Registry.Driver(session.Pattern(urlParam(r, "pattern")))
	if err != nil {
		writeDomainError(w, err, "pattern not found")
		return
	}
	snap, err := d.Snapshot()
	if err != nil {
		writeDomainError(w, err, "no session submitted yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetResults handles GET /api/v1/patterns/{pattern}/results
func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	data, err := h.Results.ReportJSON(r.Context(), session.Pattern(urlParam(r, "pattern")))
	if err != nil {
		writeDomainError(w, err, "no results available")
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}
