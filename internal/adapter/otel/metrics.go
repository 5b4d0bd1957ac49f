package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "patternwatch"

// Metrics holds all patternwatch metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionsFailed    metric.Int64Counter
	SessionsAborted   metric.Int64Counter
	FramesDecoded     metric.Int64Counter
	FramesSkipped     metric.Int64Counter
	TokensReported    metric.Int64Counter
	SessionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp, or on the global
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("patternwatch.sessions.started",
		metric.WithDescription("Number of sessions submitted"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("patternwatch.sessions.completed",
		metric.WithDescription("Number of sessions that reached the end of the stream"))
	if err != nil {
		return nil, err
	}

	m.SessionsFailed, err = meter.Int64Counter("patternwatch.sessions.failed",
		metric.WithDescription("Number of sessions that failed"))
	if err != nil {
		return nil, err
	}

	m.SessionsAborted, err = meter.Int64Counter("patternwatch.sessions.aborted",
		metric.WithDescription("Number of sessions aborted by the user"))
	if err != nil {
		return nil, err
	}

	m.FramesDecoded, err = meter.Int64Counter("patternwatch.frames.decoded",
		metric.WithDescription("Number of event frames decoded"))
	if err != nil {
		return nil, err
	}

	m.FramesSkipped, err = meter.Int64Counter("patternwatch.frames.skipped",
		metric.WithDescription("Number of malformed frames skipped"))
	if err != nil {
		return nil, err
	}

	m.TokensReported, err = meter.Int64Counter("patternwatch.tokens.reported",
		metric.WithDescription("Total tokens reported by completed steps"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("patternwatch.session.duration_seconds",
		metric.WithDescription("Session duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// PatternAttr returns the measurement option tagging a pattern.
func PatternAttr(pattern string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pattern", pattern))
}

// Add increments c by n when both are usable. It lets callers hold a nil
// *Metrics in tests.
func Add(ctx context.Context, c metric.Int64Counter, n int64, pattern string) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, PatternAttr(pattern))
}
