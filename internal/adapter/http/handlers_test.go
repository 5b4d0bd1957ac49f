package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	pwhttp "github.com/Strob0t/patternwatch/internal/adapter/http"
	"github.com/Strob0t/patternwatch/internal/config"
	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/port/agentstream"
	"github.com/Strob0t/patternwatch/internal/service"
)

// mockTransport serves a fixed body, or blocks until the request context
// is cancelled when block is set.
type mockTransport struct {
	mu    sync.Mutex
	body  string
	block bool
}

func (m *mockTransport) Open(ctx context.Context, _, _ string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block {
		pr, pw := io.Pipe()
		context.AfterFunc(ctx, func() { _ = pw.CloseWithError(ctx.Err()) })
		return pr, nil
	}
	return io.NopCloser(strings.NewReader(m.body)), nil
}

type mockHealth struct {
	health agentstream.Health
	err    error
}

func (m *mockHealth) Health(context.Context) (agentstream.Health, error) { return m.health, m.err }

const reflectionBody = "data: {\"type\":\"token\",\"agent\":\"generator\",\"iteration\":1,\"delta\":\"Hel\"}\n\n" +
	"data: {\"type\":\"token\",\"agent\":\"generator\",\"iteration\":1,\"delta\":\"lo\"}\n\n" +
	"data: {\"type\":\"step\",\"step\":{\"type\":\"draft\",\"agent\":\"generator\",\"iteration\":1,\"content\":\"Hello\",\"tokenUsage\":{\"total_tokens\":20},\"timestamp\":\"2025-01-01T00:00:00Z\"}}\n\n" +
	"data: {\"type\":\"step\",\"step\":{\"type\":\"final\",\"agent\":\"system\",\"iteration\":1,\"content\":\"Hello\",\"timestamp\":\"2025-01-01T00:00:02Z\"}}\n\n" +
	"data: [DONE]\n\n"

type testEnv struct {
	router   chi.Router
	registry *service.Registry
}

func newTestEnv(t *testing.T, tr agentstream.Transport, remote agentstream.HealthChecker) *testEnv {
	t.Helper()
	limits := config.Defaults().Limits
	reg := service.NewRegistry(tr, nil, service.DriverOptions{MaxTaskLength: limits.MaxTaskLength})
	h := &pwhttp.Handlers{
		Registry: reg,
		Results:  service.NewResultsService(reg, nil, time.Minute, results.DefaultOptions()),
		Remote:   remote,
		Limits:   limits,
		Version:  "test",
	}
	r := chi.NewRouter()
	pwhttp.MountRoutes(r, h, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &testEnv{router: r, registry: reg}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) wait(t *testing.T, p session.Pattern) {
	t.Helper()
	d, err := e.registry.Driver(p)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Error
}

func TestSubmitAndFetchSession(t *testing.T) {
	env := newTestEnv(t, &mockTransport{body: reflectionBody}, nil)

	w := env.do("POST", "/api/v1/patterns/reflection/submit", `{"task":"greet"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var started session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.ID == "" || started.Task != "greet" {
		t.Fatalf("unexpected submit response %+v", started)
	}
	env.wait(t, session.PatternReflection)

	w = env.do("GET", "/api/v1/patterns/reflection/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != session.StateComplete || snap.ID != started.ID {
		t.Fatalf("unexpected session %+v", snap)
	}
	if b, ok := snap.Buffer("generator-1"); !ok || b.Text != "Hello" || !b.Closed {
		t.Errorf("unexpected buffer %+v", b)
	}
	if len(snap.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(snap.Steps))
	}
}

func TestGetResults(t *testing.T) {
	env := newTestEnv(t, &mockTransport{body: reflectionBody}, nil)

	if w := env.do("GET", "/api/v1/patterns/reflection/results", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before submit, got %d", w.Code)
	}

	env.do("POST", "/api/v1/patterns/reflection/submit", `{"task":"greet"}`)
	env.wait(t, session.PatternReflection)

	w := env.do("GET", "/api/v1/patterns/reflection/results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var r results.Report
	if err := json.NewDecoder(w.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Summary.TotalTokens != 20 || r.Summary.ElapsedSeconds != 2 || r.Summary.Iterations != 1 {
		t.Errorf("unexpected summary %+v", r.Summary)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, &mockTransport{body: reflectionBody}, nil)

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		message string
	}{
		{"empty task", "/api/v1/patterns/reflection/submit", `{"task":"  "}`, http.StatusBadRequest, "task is empty"},
		{"too long", "/api/v1/patterns/reflection/submit", `{"task":"` + strings.Repeat("a", 501) + `"}`, http.StatusBadRequest, "task exceeds 500 characters"},
		{"bad json", "/api/v1/patterns/reflection/submit", `{"task":`, http.StatusBadRequest, "invalid request body"},
		{"unknown pattern", "/api/v1/patterns/debate/submit", `{"task":"x"}`, http.StatusNotFound, "pattern not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", tt.path, tt.body)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if msg := decodeError(t, w); msg != tt.message {
				t.Errorf("error = %q, want %q", msg, tt.message)
			}
		})
	}
}

func TestSubmitBusyAndAbort(t *testing.T) {
	env := newTestEnv(t, &mockTransport{block: true}, nil)

	if w := env.do("POST", "/api/v1/patterns/orchestrator/submit", `{"task":"one"}`); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := env.do("POST", "/api/v1/patterns/orchestrator/submit", `{"task":"two"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "a session is already running" {
		t.Errorf("error = %q", msg)
	}

	w = env.do("POST", "/api/v1/patterns/orchestrator/abort", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp pwhttp.AbortResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Aborted || resp.State != session.StateIdle {
		t.Errorf("unexpected abort response %+v", resp)
	}
	env.wait(t, session.PatternOrchestrator)

	// Cancellation is not an error.
	w = env.do("GET", "/api/v1/patterns/orchestrator/session", "")
	var snap session.Snapshot
	_ = json.NewDecoder(w.Body).Decode(&snap)
	if snap.State != session.StateIdle || snap.Error != "" {
		t.Errorf("unexpected session after abort %+v", snap)
	}
}

func TestListPatterns(t *testing.T) {
	env := newTestEnv(t, &mockTransport{body: reflectionBody}, nil)
	env.do("POST", "/api/v1/patterns/reflection/submit", `{"task":"greet"}`)
	env.wait(t, session.PatternReflection)

	w := env.do("GET", "/api/v1/patterns", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []pwhttp.PatternStatus
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(list))
	}
	if list[0].Pattern != session.PatternReflection || list[0].State != session.StateComplete {
		t.Errorf("unexpected reflection status %+v", list[0])
	}
	if list[1].Pattern != session.PatternOrchestrator || list[1].State != session.StateIdle || list[1].SessionID != "" {
		t.Errorf("unexpected orchestrator status %+v", list[1])
	}
}

func TestGetSessionNotSubmitted(t *testing.T) {
	env := newTestEnv(t, &mockTransport{}, nil)
	w := env.do("GET", "/api/v1/patterns/reflection/session", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		remote *mockHealth
		status string
	}{
		{"remote ok", &mockHealth{health: agentstream.Health{Status: "ok", HasAPIKey: true}}, "ok"},
		{"remote down", &mockHealth{err: errors.New("connection refused")}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &mockTransport{}, tt.remote)
			w := env.do("GET", "/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var resp pwhttp.HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.status {
				t.Errorf("status = %q, want %q", resp.Status, tt.status)
			}
			if tt.remote.err == nil && (resp.Remote == nil || !resp.Remote.HasAPIKey) {
				t.Errorf("expected remote health, got %+v", resp.Remote)
			}
		})
	}
}
