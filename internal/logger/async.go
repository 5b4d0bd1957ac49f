package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// queued pairs a record with the handler it was logged through, so records
// from WithAttrs/WithGroup derivatives keep their attributes.
type queued struct {
	h   slog.Handler
	rec slog.Record
}

// asyncState is shared by an AsyncHandler and every handler derived from it.
type asyncState struct {
	mu      sync.RWMutex // guards ch against send-after-close
	ch      chan queued
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool.
// Records are dropped, and counted, when the buffer is full or the handler
// has been closed, so the stream reader never blocks on a slow log sink.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan queued, chanSize)}
	for range max(workers, 1) {
		st.wg.Add(1)
		go st.drain()
	}
	return &AsyncHandler{inner: inner, state: st}
}

func (st *asyncState) drain() {
	defer st.wg.Done()
	for q := range st.ch {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full or closed.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	st := h.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		st.dropped.Add(1)
		return nil
	}
	select {
	case st.ch <- queued{h: h.inner, rec: rec.Clone()}:
	default:
		st.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a new AsyncHandler sharing the same queue but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

// WithGroup returns a new AsyncHandler sharing the same queue but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain the
// queue. It is safe to call more than once.
func (h *AsyncHandler) Close() {
	st := h.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	close(st.ch)
	st.mu.Unlock()
	st.wg.Wait()
}
