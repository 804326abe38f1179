// Package trace owns the process tracer. Spans are exported as JSON lines
// to stdout or a file; when tracing is off StartSpan returns the parent span
// and costs nothing.
package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "scheduled-trader"

// Version is stamped at build time with -ldflags "-X scheduled-trader/internal/trace.Version=...".
var Version = "dev"

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
	output         io.Closer
)

type Config struct {
	Enabled bool
	// Path receives the span stream; empty means stdout.
	Path string
	// SampleRatio is the fraction of root spans kept, in (0, 1].
	SampleRatio float64
	// Sync exports each span as it ends instead of batching.
	Sync bool
	// Output overrides Path when set.
	Output io.Writer
}

// LoadConfigFromEnv reads LOG_TRACING_ENABLED, TRACE_OUTPUT and TRACE_SAMPLE_RATIO.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Enabled:     os.Getenv("LOG_TRACING_ENABLED") == "true",
		Path:        os.Getenv("TRACE_OUTPUT"),
		SampleRatio: 1,
	}
	if v := os.Getenv("TRACE_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

func InitWithConfig(cfg Config) error {
	enabled = false
	if !cfg.Enabled {
		return nil
	}

	w := cfg.Output
	if w == nil {
		w = os.Stdout
		if cfg.Path != "" {
			f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("trace output: %w", err)
			}
			w, output = f, f
		}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.Sync {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	} else {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(serviceName)
	enabled = true
	return nil
}

// Shutdown flushes pending spans and closes the output file.
func Shutdown(ctx context.Context) error {
	enabled = false
	var err error
	if tracerProvider != nil {
		err = tracerProvider.Shutdown(ctx)
		tracerProvider = nil
	}
	if output != nil {
		if cerr := output.Close(); err == nil {
			err = cerr
		}
		output = nil
	}
	return err
}

func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !enabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, opts...)
}

func Enabled() bool {
	return enabled
}

// GetTraceFields returns the ids of the span in ctx for log correlation.
func GetTraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	if !enabled {
		return "", "", false
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}
