package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
	"github.com/Strob0t/patternwatch/internal/logger"
	"github.com/Strob0t/patternwatch/internal/port/broadcast"
	"github.com/Strob0t/patternwatch/internal/port/messagequeue"
)

var _ broadcast.Observer = (*StepSink)(nil)

// StepSink publishes every applied step and the session outcome. Token
// deltas are not published. Publish failures are logged and never affect
// the session.
type StepSink struct {
	pub    messagequeue.Publisher
	prefix string
}

// NewStepSink creates a sink publishing under prefix.
func NewStepSink(pub messagequeue.Publisher, prefix string) *StepSink {
	return &StepSink{pub: pub, prefix: prefix}
}

// LogUpdated publishes the newest step of the log.
func (s *StepSink) LogUpdated(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	if len(steps) == 0 {
		return
	}
	idx := len(steps) - 1
	s.publish(ctx, messagequeue.StepSubject(s.prefix, string(pattern)), messagequeue.StepPayload{
		SessionID: logger.SessionID(ctx),
		Pattern:   string(pattern),
		Index:     idx,
		Step:      steps[idx],
	})
}

// Token implements broadcast.Observer.
func (s *StepSink) Token(context.Context, session.Pattern, session.TokenUpdate) {}

// Completed publishes the session summary.
func (s *StepSink) Completed(ctx context.Context, pattern session.Pattern, steps []stream.Step) {
	s.publish(ctx, messagequeue.SessionSubject(s.prefix, string(pattern), messagequeue.OutcomeComplete), messagequeue.SessionCompletePayload{
		SessionID:      logger.SessionID(ctx),
		Pattern:        string(pattern),
		Steps:          len(steps),
		TotalTokens:    results.TotalTokens(steps),
		ElapsedSeconds: results.Elapsed(steps).Seconds(),
	})
}

// Failed publishes the failure message.
func (s *StepSink) Failed(ctx context.Context, pattern session.Pattern, message string) {
	s.publish(ctx, messagequeue.SessionSubject(s.prefix, string(pattern), messagequeue.OutcomeError), messagequeue.SessionErrorPayload{
		SessionID: logger.SessionID(ctx),
		Pattern:   string(pattern),
		Error:     message,
	})
}

func (s *StepSink) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal nats payload", "subject", subject, "error", err)
		return
	}
	if err := s.pub.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "step sink publish failed", "subject", subject, "error", err)
	}
}
