// Package ws implements the WebSocket live view of running sessions.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
	"github.com/Strob0t/patternwatch/internal/port/broadcast"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

var _ broadcast.Observer = (*LiveView)(nil)

// LiveView streams session progress to exactly one attached client. A new
// connection replaces the previous one.
type LiveView struct {
	mu      sync.Mutex
	current *conn
}

// NewLiveView creates a LiveView with no client attached.
func NewLiveView() *LiveView {
	return &LiveView{}
}

// HandleWS upgrades the request and attaches it as the live view client.
func (v *LiveView) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}

	v.mu.Lock()
	prev := v.current
	v.current = c
	v.mu.Unlock()

	if prev != nil {
		_ = prev.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		prev.cancel()
		slog.Info("websocket replaced")
	}
	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			v.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Connected reports whether a client is attached.
func (v *LiveView) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current != nil
}

// Send writes msg to the attached client, if any.
func (v *LiveView) Send(ctx context.Context, msg Message) {
	v.mu.Lock()
	c := v.current
	v.mu.Unlock()
	if c == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
		v.remove(c)
	}
}

// SendEvent marshals a typed event and sends it.
func (v *LiveView) SendEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	v.Send(ctx, Message{Type: eventType, Payload: json.RawMessage(data)})
}

// LogUpdated implements broadcast.Observer.
func (v *LiveView) LogUpdated(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	v.SendEvent(ctx, EventLogUpdated, LogEvent{Pattern: pattern, Steps: steps})
}

// Token implements broadcast.Observer.
func (v *LiveView) Token(ctx context.Context, pattern session.Pattern, update session.TokenUpdate) {
	v.SendEvent(ctx, EventToken, TokenEvent{Pattern: pattern, TokenUpdate: update})
}

// Completed implements broadcast.Observer.
func (v *LiveView) Completed(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	v.SendEvent(ctx, EventCompleted, LogEvent{Pattern: pattern, Steps: steps})
}

// Failed implements broadcast.Observer.
func (v *LiveView) Failed(ctx context.Context, pattern session.Pattern, message string) {
	v.SendEvent(ctx, EventFailed, FailedEvent{Pattern: pattern, Message: message})
}

func (v *LiveView) remove(c *conn) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == c {
		c.cancel()
		v.current = nil
		slog.Info("websocket disconnected")
	}
}
