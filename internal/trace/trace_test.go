package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestDisabledIsNoop(t *testing.T) {
	if err := InitWithConfig(Config{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "engine.Tick")
	defer span.End()

	if span.SpanContext().IsValid() {
		t.Error("expected no recording span when tracing is disabled")
	}
	if _, _, ok := GetTraceFields(ctx); ok {
		t.Error("expected no trace fields when tracing is disabled")
	}
}

func TestEnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithConfig(Config{Enabled: true, Sync: true, Output: &buf, SampleRatio: 1}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "broker.SubmitOrder")
	traceID, spanID, ok := GetTraceFields(ctx)
	if !ok || traceID == "" || spanID == "" {
		t.Fatalf("expected trace fields, got %q %q %v", traceID, spanID, ok)
	}
	span.End()

	out := buf.String()
	if !strings.Contains(out, "broker.SubmitOrder") {
		t.Errorf("span not exported: %s", out)
	}
	if !strings.Contains(out, traceID) {
		t.Errorf("exported span missing trace id %s", traceID)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "true")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("TRACE_OUTPUT", "/tmp/spans.jsonl")

	cfg := LoadConfigFromEnv()
	if !cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.Path != "/tmp/spans.jsonl" {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv("TRACE_SAMPLE_RATIO", "7")
	if got := LoadConfigFromEnv().SampleRatio; got != 1 {
		t.Errorf("out of range ratio should fall back to 1, got %v", got)
	}
}
