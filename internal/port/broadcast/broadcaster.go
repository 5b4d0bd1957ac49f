// Package broadcast defines the port through which session progress is
// published to live views and sinks.
package broadcast

import (
	"context"

	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// Observer receives session progress. Calls arrive from the session's
// reader goroutine, in event order, with copies the observer may keep.
type Observer interface {
	// LogUpdated is called after every applied step with the full log.
	LogUpdated(ctx context.Context, pattern session.Pattern, steps []stream.Step)
	// Token is called after every applied token delta.
	Token(ctx context.Context, pattern session.Pattern, update session.TokenUpdate)
	// Completed is called once with the final log when the stream ends.
	Completed(ctx context.Context, pattern session.Pattern, steps []stream.Step)
	// Failed is called once with a user-facing message when the session fails.
	Failed(ctx context.Context, pattern session.Pattern, message string)
}

// Funcs adapts optional callbacks to Observer. Nil fields are skipped.
type Funcs struct {
	OnLogUpdated func(ctx context.Context, pattern session.Pattern, steps []stream.Step)
	OnToken      func(ctx context.Context, pattern session.Pattern, update session.TokenUpdate)
	OnCompleted  func(ctx context.Context, pattern session.Pattern, steps []stream.Step)
	OnFailed     func(ctx context.Context, pattern session.Pattern, message string)
}

var _ Observer = Funcs{}

// LogUpdated implements Observer.
func (f Funcs) LogUpdated(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	if f.OnLogUpdated != nil {
		f.OnLogUpdated(ctx, pattern, steps)
	}
}

// Token implements Observer.
func (f Funcs) Token(ctx context.Context, pattern session.Pattern, update session.TokenUpdate) {
	if f.OnToken != nil {
		f.OnToken(ctx, pattern, update)
	}
}

// Completed implements Observer.
func (f Funcs) Completed(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	if f.OnCompleted != nil {
		f.OnCompleted(ctx, pattern, steps)
	}
}

// Failed implements Observer.
func (f Funcs) Failed(ctx context.Context, pattern session.Pattern, message string) {
	if f.OnFailed != nil {
		f.OnFailed(ctx, pattern, message)
	}
}
