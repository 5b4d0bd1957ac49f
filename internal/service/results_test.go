package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/patternwatch/internal/domain"
	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestResultsServiceReport(t *testing.T) {
	tr := &fakeTransport{open: bodyOf(
		frame(`{"type":"step","step":{"type":"planning","agent":"orchestrator","content":"{\"subtasks\":[{\"title\":\"A\"}]}","timestamp":"2025-01-01T00:00:00Z"}}`),
		frame(`{"type":"step","step":{"type":"worker_start","agent":"worker","workerId":0,"timestamp":"2025-01-01T00:00:01Z"}}`),
		frame(`{"type":"step","step":{"type":"worker_complete","agent":"worker","workerId":0,"content":"a","tokenUsage":{"total_tokens":30},"timestamp":"2025-01-01T00:00:03Z"}}`),
		frame(`{"type":"step","step":{"type":"final","agent":"synthesizer","content":"done","tokenUsage":{"total_tokens":10},"timestamp":"2025-01-01T00:00:04Z"}}`),
		doneFrame,
	)}
	reg := NewRegistry(tr, nil, DriverOptions{})
	c := newMapCache()
	svc := NewResultsService(reg, c, time.Minute, results.DefaultOptions())

	if _, err := svc.ReportJSON(context.Background(), session.PatternOrchestrator); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before submit, got %v", err)
	}

	d, err := reg.Driver(session.PatternOrchestrator)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(context.Background(), "task"); err != nil {
		t.Fatal(err)
	}
	wait(t, d)

	data, err := svc.ReportJSON(context.Background(), session.PatternOrchestrator)
	if err != nil {
		t.Fatalf("ReportJSON: %v", err)
	}
	var r results.Report
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.Summary.TotalTokens != 40 || r.Summary.Workers != 1 || r.Final != "done" {
		t.Errorf("unexpected report %+v", r)
	}
	if len(r.Workers) != 1 || r.Workers[0].Title != "A" {
		t.Errorf("unexpected workers %+v", r.Workers)
	}

	if _, err := svc.ReportJSON(context.Background(), session.PatternOrchestrator); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gets != 2 || c.hits != 1 {
		t.Errorf("gets=%d hits=%d, want 2/1", c.gets, c.hits)
	}
}

func TestResultsServiceUnknownPattern(t *testing.T) {
	reg := NewRegistry(&fakeTransport{open: bodyOf(doneFrame)}, nil, DriverOptions{})
	svc := NewResultsService(reg, nil, time.Minute, results.DefaultOptions())
	if _, _, err := svc.Build("unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReportKeyChangesWithVersion(t *testing.T) {
	a := reportKey(session.Snapshot{Pattern: session.PatternReflection, ID: "s", Version: 1})
	b := reportKey(session.Snapshot{Pattern: session.PatternReflection, ID: "s", Version: 2})
	if a == b {
		t.Fatal("report key must change with the session version")
	}
}

func TestRegistryShutdownAbortsRunning(t *testing.T) {
	body := newChanBody()
	reg := NewRegistry(&fakeTransport{open: func(context.Context) (io.ReadCloser, error) { return body, nil }}, nil, DriverOptions{})
	d, _ := reg.Driver(session.PatternReflection)
	if _, err := d.Submit(context.Background(), "task"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s := snapshot(t, d).State; s != session.StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
	if got := reg.Patterns(); len(got) != 2 {
		t.Errorf("patterns = %v", got)
	}
}

func TestRegistryShutdownKeepsFinishedSessions(t *testing.T) {
	reg := NewRegistry(&fakeTransport{open: bodyOf(frame(`{"type":"token","agent":"generator","delta":"hi"}`), doneFrame)}, nil, DriverOptions{})
	d, _ := reg.Driver(session.PatternReflection)
	if _, err := d.Submit(context.Background(), "task"); err != nil {
		t.Fatal(err)
	}
	wait(t, d)
	before := snapshot(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	after := snapshot(t, d)
	if after.State != session.StateComplete || after.Version != before.Version {
		t.Errorf("shutdown changed a finished session: %s v%d -> %s v%d", before.State, before.Version, after.State, after.Version)
	}
}
