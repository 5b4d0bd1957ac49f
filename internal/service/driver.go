package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"

	pwotel "github.com/Strob0t/patternwatch/internal/adapter/otel"
	"github.com/Strob0t/patternwatch/internal/adapter/sse"
	"github.com/Strob0t/patternwatch/internal/domain"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
	"github.com/Strob0t/patternwatch/internal/logger"
	"github.com/Strob0t/patternwatch/internal/port/agentstream"
	"github.com/Strob0t/patternwatch/internal/port/broadcast"
	"github.com/Strob0t/patternwatch/internal/resilience"
)

var (
	// ErrEmptyTask is returned by Submit for an empty or whitespace task.
	ErrEmptyTask = fmt.Errorf("task is empty: %w", domain.ErrValidation)
	// ErrBusy is returned by Submit while a session is loading or streaming.
	ErrBusy = fmt.Errorf("a session is already running: %w", domain.ErrConflict)
)

// User-facing failure messages.
const (
	msgConnectionFailed = "connection to agent service failed"
	msgUnavailable      = "agent service unavailable"
	msgRemoteError      = "agent service reported an error"
)

const (
	defaultChunkSize = 4096
	previewRunes     = 80
)

// DriverOptions tune a Driver. Zero values select defaults.
type DriverOptions struct {
	MaxTaskLength int // in runes; 0 disables the check
	ChunkSize     int
}

type subscriber struct {
	id  int
	obs broadcast.Observer
}

// Driver owns the single outstanding session of one pattern. All session
// mutation happens under mu; events are applied by one reader goroutine
// per session in decode order. A generation counter invalidates readers
// of aborted or replaced sessions.
type Driver struct {
	pattern   session.Pattern
	transport agentstream.Transport
	metrics   *pwotel.Metrics
	opts      DriverOptions
	newID     func() string

	mu        sync.Mutex
	sess      *session.Session
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	subs      []subscriber
	nextSubID int
}

// NewDriver creates a driver for pattern. A nil metrics records nothing.
func NewDriver(pattern session.Pattern, transport agentstream.Transport, metrics *pwotel.Metrics, opts DriverOptions) *Driver {
	if metrics == nil {
		metrics, _ = pwotel.NewMetrics(noop.NewMeterProvider())
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Driver{
		pattern:   pattern,
		transport: transport,
		metrics:   metrics,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// Pattern returns the pattern this driver runs.
func (d *Driver) Pattern() session.Pattern { return d.pattern }

// Subscribe registers an observer for every later session event. The
// returned function removes it.
func (d *Driver) Subscribe(obs broadcast.Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSubID++
	id := d.nextSubID
	d.subs = append(d.subs, subscriber{id: id, obs: obs})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

func (d *Driver) observersLocked() []broadcast.Observer {
	out := make([]broadcast.Observer, len(d.subs))
	for i, s := range d.subs {
		out[i] = s.obs
	}
	return out
}

// Submit validates task and starts a new session. The request runs in its
// own goroutine and outlives ctx; only values (request id) are inherited.
// Rejected submissions leave the current session untouched.
func (d *Driver) Submit(ctx context.Context, task string) (session.Snapshot, error) {
	if strings.TrimSpace(task) == "" {
		return session.Snapshot{}, ErrEmptyTask
	}
	if limit := d.opts.MaxTaskLength; limit > 0 && utf8.RuneCountInString(task) > limit {
		return session.Snapshot{}, fmt.Errorf("task exceeds %d characters: %w", limit, domain.ErrValidation)
	}

	d.mu.Lock()
	if d.sess != nil && d.sess.State().Active() {
		d.mu.Unlock()
		return session.Snapshot{}, ErrBusy
	}

	id := d.newID()
	sess := session.New(id, d.pattern, task)
	d.gen++
	gen := d.gen
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logger.WithSessionID(runCtx, id)
	done := make(chan struct{})

	if d.cancel != nil {
		d.cancel()
	}
	d.sess = sess
	d.cancel = cancel
	d.done = done
	snap := sess.Snapshot()
	d.mu.Unlock()

	pwotel.Add(runCtx, d.metrics.SessionsStarted, 1, string(d.pattern))
	slog.InfoContext(runCtx, "session submitted", "pattern", d.pattern, "task_length", utf8.RuneCountInString(task))

	go d.run(runCtx, gen, task, done)
	return snap, nil
}

// Abort cancels the current session. The state flips to idle before Abort
// returns, the in-flight body is closed, and nothing read afterwards is
// applied. It reports whether a loading or streaming session was stopped.
func (d *Driver) Abort() bool {
	d.mu.Lock()
	if d.sess == nil {
		d.mu.Unlock()
		return false
	}
	if !d.sess.Cancel() {
		d.mu.Unlock()
		return false
	}
	d.gen++
	if d.cancel != nil {
		d.cancel()
	}
	id := d.sess.ID
	d.mu.Unlock()

	ctx := logger.WithSessionID(context.Background(), id)
	pwotel.Add(ctx, d.metrics.SessionsAborted, 1, string(d.pattern))
	slog.InfoContext(ctx, "session aborted", "pattern", d.pattern)
	return true
}

// Snapshot returns a copy of the current session, or domain.ErrNotFound
// when nothing has been submitted yet.
func (d *Driver) Snapshot() (session.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return session.Snapshot{}, fmt.Errorf("%s session: %w", d.pattern, domain.ErrNotFound)
	}
	return d.sess.Snapshot(), nil
}

// Wait blocks until the reader goroutine of the latest session returns.
func (d *Driver) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) run(ctx context.Context, gen uint64, task string, done chan struct{}) {
	defer close(done)

	ctx, span := pwotel.StartSessionSpan(ctx, logger.SessionID(ctx), string(d.pattern))
	defer span.End()

	openCtx, openSpan := pwotel.StartStreamOpenSpan(ctx, string(d.pattern))
	body, err := d.transport.Open(openCtx, string(d.pattern), task)
	if err != nil {
		openSpan.RecordError(err)
		openSpan.SetStatus(codes.Error, "open failed")
		openSpan.End()
		if ctx.Err() == nil {
			span.SetStatus(codes.Error, "open failed")
		}
		d.fail(ctx, gen, userMessage(err), err)
		return
	}
	openSpan.End()

	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer func() {
		stop()
		_ = body.Close()
	}()

	dec := sse.NewDecoder()
	buf := make([]byte, d.opts.ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if !d.markStreaming(gen) {
				return
			}
			for _, f := range dec.Feed(buf[:n]) {
				if !d.handleFrame(ctx, gen, f) {
					return
				}
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			d.complete(ctx, gen)
			return
		}
		if ctx.Err() != nil {
			return
		}
		span.RecordError(rerr)
		span.SetStatus(codes.Error, "stream read failed")
		d.fail(ctx, gen, msgConnectionFailed, rerr)
		return
	}
}

// handleFrame applies one decoded frame. It returns false when reading
// must stop.
func (d *Driver) handleFrame(ctx context.Context, gen uint64, f sse.Frame) bool {
	pattern := string(d.pattern)
	pwotel.Add(ctx, d.metrics.FramesDecoded, 1, pattern)

	res := sse.ClassifyFrame(f)
	switch res.Outcome {
	case sse.OutcomeDone:
		d.complete(ctx, gen)
		return false
	case sse.OutcomeSkipped:
		pwotel.Add(ctx, d.metrics.FramesSkipped, 1, pattern)
		slog.WarnContext(ctx, "frame skipped", "pattern", pattern, "error", res.Err)
		return true
	case sse.OutcomeFatal:
		msg := msgRemoteError
		if ev, ok := res.Event.(stream.ErrorEvent); ok && ev.Message != "" {
			msg = ev.Message
		}
		d.fail(ctx, gen, msg, nil)
		return false
	default:
		return d.apply(ctx, gen, res.Event)
	}
}

func (d *Driver) markStreaming(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return false
	}
	return d.sess.MarkStreaming() == nil
}

func (d *Driver) apply(ctx context.Context, gen uint64, ev stream.Event) bool {
	switch e := ev.(type) {
	case stream.TokenDelta:
		return d.applyToken(ctx, gen, e)
	case stream.Step:
		return d.applyStep(ctx, gen, e)
	case stream.ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = msgRemoteError
		}
		d.fail(ctx, gen, msg, nil)
		return false
	default:
		slog.WarnContext(ctx, "event not applied", "pattern", d.pattern, "event", fmt.Sprintf("%T", ev))
		return false
	}
}

func (d *Driver) applyToken(ctx context.Context, gen uint64, delta stream.TokenDelta) bool {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return false
	}
	update, err := d.sess.ApplyToken(delta)
	if err != nil {
		d.mu.Unlock()
		slog.WarnContext(ctx, "token not applied", "pattern", d.pattern, "error", err)
		return false
	}
	observers := d.observersLocked()
	d.mu.Unlock()

	for _, o := range observers {
		o.Token(ctx, d.pattern, update)
	}
	return true
}

func (d *Driver) applyStep(ctx context.Context, gen uint64, step stream.Step) bool {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return false
	}
	if err := d.sess.ApplyStep(step); err != nil {
		d.mu.Unlock()
		slog.WarnContext(ctx, "step not applied", "pattern", d.pattern, "error", err)
		return false
	}
	steps := d.sess.Steps()
	observers := d.observersLocked()
	d.mu.Unlock()

	d.logStep(ctx, step)
	pwotel.Add(ctx, d.metrics.TokensReported, int64(step.Tokens()), string(d.pattern))
	for _, o := range observers {
		o.LogUpdated(ctx, d.pattern, stream.CloneSteps(steps))
	}
	return true
}

func (d *Driver) logStep(ctx context.Context, s stream.Step) {
	attrs := []any{
		"pattern", d.pattern,
		"agent", s.Agent,
		"type", s.Type,
		"tokens", s.Tokens(),
		"preview", s.Preview(previewRunes),
	}
	if s.Iteration != nil {
		attrs = append(attrs, "iteration", *s.Iteration)
	}
	if s.WorkerID != nil {
		attrs = append(attrs, "worker", *s.WorkerID)
	}
	slog.InfoContext(ctx, "step applied", attrs...)
}

func (d *Driver) complete(ctx context.Context, gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.sess.Complete() != nil {
		d.mu.Unlock()
		return
	}
	steps := d.sess.Steps()
	elapsed := time.Since(d.sess.StartedAt())
	observers := d.observersLocked()
	d.mu.Unlock()

	pattern := string(d.pattern)
	pwotel.Add(ctx, d.metrics.SessionsCompleted, 1, pattern)
	d.metrics.SessionDuration.Record(ctx, elapsed.Seconds(), pwotel.PatternAttr(pattern))
	slog.InfoContext(ctx, "session complete", "pattern", pattern, "steps", len(steps), "duration", elapsed)

	for _, o := range observers {
		o.Completed(ctx, d.pattern, stream.CloneSteps(steps))
	}
}

func (d *Driver) fail(ctx context.Context, gen uint64, msg string, cause error) {
	d.mu.Lock()
	if gen != d.gen || d.sess.Fail(msg) != nil {
		d.mu.Unlock()
		return
	}
	observers := d.observersLocked()
	d.mu.Unlock()

	pattern := string(d.pattern)
	pwotel.Add(ctx, d.metrics.SessionsFailed, 1, pattern)
	if cause != nil {
		slog.ErrorContext(ctx, "session failed", "pattern", pattern, "message", msg, "error", cause)
	} else {
		slog.ErrorContext(ctx, "session failed", "pattern", pattern, "message", msg)
	}

	for _, o := range observers {
		o.Failed(ctx, d.pattern, msg)
	}
}

// userMessage maps a transport error to the message shown to the user.
func userMessage(err error) string {
	var se *agentstream.StatusError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return msgUnavailable
	default:
		return msgConnectionFailed
	}
}
