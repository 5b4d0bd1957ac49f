package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitConnected(t *testing.T, v *LiveView) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !v.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, ctx context.Context, c *websocket.Conn) Message {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestLiveViewNoConnection(t *testing.T) {
	v := NewLiveView()
	if v.Connected() {
		t.Fatal("expected no connection")
	}
	// Sending without a client should not panic.
	v.Token(context.Background(), session.PatternReflection, session.TokenUpdate{Delta: "x"})
	v.Failed(context.Background(), session.PatternReflection, "boom")
}

func TestLiveViewSendEventMarshalError(t *testing.T) {
	v := NewLiveView()
	// A channel cannot be marshaled to JSON; should log error, not panic.
	v.SendEvent(context.Background(), "bad", make(chan int))
}

func TestLiveViewDeliversEvents(t *testing.T) {
	v := NewLiveView()
	srv := httptest.NewServer(httpHandler(v))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dial(t, ctx, srv)
	defer c.CloseNow()
	waitConnected(t, v)

	v.Token(ctx, session.PatternReflection, session.TokenUpdate{Entity: "generator", Agent: "generator", Delta: "Hel", Created: true})
	msg := readMessage(t, ctx, c)
	if msg.Type != EventToken {
		t.Fatalf("type = %q", msg.Type)
	}
	var tok TokenEvent
	if err := json.Unmarshal(msg.Payload, &tok); err != nil {
		t.Fatal(err)
	}
	if tok.Pattern != session.PatternReflection || tok.Delta != "Hel" || !tok.Created {
		t.Errorf("unexpected token event %+v", tok)
	}

	v.LogUpdated(ctx, session.PatternReflection, []stream.Step{{Type: stream.StepDraft, Agent: "generator"}})
	if msg := readMessage(t, ctx, c); msg.Type != EventLogUpdated {
		t.Errorf("type = %q", msg.Type)
	}
	v.Failed(ctx, session.PatternReflection, "quota exceeded")
	msg = readMessage(t, ctx, c)
	var failed FailedEvent
	_ = json.Unmarshal(msg.Payload, &failed)
	if msg.Type != EventFailed || failed.Message != "quota exceeded" {
		t.Errorf("unexpected failure event %s %+v", msg.Type, failed)
	}
}

func TestLiveViewReplacesPreviousConnection(t *testing.T) {
	v := NewLiveView()
	srv := httptest.NewServer(httpHandler(v))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := dial(t, ctx, srv)
	defer first.CloseNow()
	waitConnected(t, v)

	second := dial(t, ctx, srv)
	defer second.CloseNow()

	// The first client is closed by the server.
	if _, _, err := first.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}

	waitConnected(t, v)
	v.Completed(ctx, session.PatternOrchestrator, nil)
	if msg := readMessage(t, ctx, second); msg.Type != EventCompleted {
		t.Errorf("type = %q", msg.Type)
	}
}
