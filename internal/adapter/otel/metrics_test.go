package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestNewMetricsRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	Add(ctx, m.SessionsStarted, 1, "reflection")
	Add(ctx, m.FramesDecoded, 3, "reflection")
	Add(ctx, m.FramesSkipped, 0, "reflection")
	Add(ctx, m.TokensReported, 150, "orchestrator")

	sums := collect(t, reader)
	if sums["patternwatch.sessions.started"] != 1 {
		t.Errorf("sessions.started = %d", sums["patternwatch.sessions.started"])
	}
	if sums["patternwatch.frames.decoded"] != 3 {
		t.Errorf("frames.decoded = %d", sums["patternwatch.frames.decoded"])
	}
	if sums["patternwatch.tokens.reported"] != 150 {
		t.Errorf("tokens.reported = %d", sums["patternwatch.tokens.reported"])
	}
	if _, ok := sums["patternwatch.frames.skipped"]; ok {
		t.Error("zero increments should not be recorded")
	}
}

func TestAddNilCounter(t *testing.T) {
	Add(context.Background(), nil, 1, "reflection")
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
