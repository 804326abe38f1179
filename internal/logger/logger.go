// Package logger is the process-wide structured logger. Every line carries
// the trace and span ids of the context when tracing is on, and errors are
// recorded on the active span.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"scheduled-trader/internal/trace"
)

var (
	globalLogger = slog.Default()
	// detailedLogging turns on debug lines and source locations.
	detailedLogging bool
)

type LogConfig struct {
	Level           string // DEBUG, INFO, WARN, ERROR
	Format          string // json or text
	DetailedLogging bool
	Output          io.Writer
}

func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

// LoadConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_DETAILED.
func LoadConfigFromEnv() LogConfig {
	return LogConfig{
		Level:           envOr("LOG_LEVEL", "INFO"),
		Format:          envOr("LOG_FORMAT", "json"),
		DetailedLogging: envOr("LOG_DETAILED", "false") == "true",
	}
}

func InitWithConfig(config LogConfig) error {
	level := parseLevel(config.Level)
	detailedLogging = config.DetailedLogging
	if detailedLogging {
		level = slog.LevelDebug
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	// Source is added in logWithTrace so wrappers can report their caller.
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Debug(ctx context.Context, msg string, args ...any) {
	if !detailedLogging {
		return
	}
	logWithTrace(ctx, slog.LevelDebug, msg, 3, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelInfo, msg, 3, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelWarn, msg, 3, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelError, msg, 3, args...)
}

// ErrorWithErr logs at error level and records err on the active span.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, slog.LevelError, msg, 3, append([]any{"error", err}, args...)...)
}

// The *Skip variants are for middleware: skip extra frames so the source
// points at the wrapped call site.

func DebugSkip(ctx context.Context, skip int, msg string, args ...any) {
	if !detailedLogging {
		return
	}
	logWithTrace(ctx, slog.LevelDebug, msg, 3+skip, args...)
}

func InfoSkip(ctx context.Context, skip int, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelInfo, msg, 3+skip, args...)
}

func WarnSkip(ctx context.Context, skip int, msg string, args ...any) {
	logWithTrace(ctx, slog.LevelWarn, msg, 3+skip, args...)
}

func ErrorWithErrSkip(ctx context.Context, skip int, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, slog.LevelError, msg, 3+skip, append([]any{"error", err}, args...)...)
}

func recordSpanError(ctx context.Context, err error) {
	if !trace.Enabled() || err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// logWithTrace prepends trace ids and, in detailed mode, the caller found
// skip-1 frames up.
func logWithTrace(ctx context.Context, level slog.Level, msg string, skip int, args ...any) {
	if !globalLogger.Enabled(ctx, level) {
		return
	}
	if traceID, spanID, ok := trace.GetTraceFields(ctx); ok {
		args = append([]any{"trace_id", traceID, "span_id", spanID}, args...)
	}

	if detailedLogging {
		if pc, file, line, ok := runtime.Caller(skip - 1); ok {
			if fn := runtime.FuncForPC(pc); fn != nil {
				args = append(args, "source", slog.GroupValue(
					slog.String("function", fn.Name()),
					slog.String("file", file),
					slog.Int("line", line),
				))
			}
		}
	}

	globalLogger.Log(ctx, level, msg, args...)
}

// Order logs an order lifecycle event and mirrors it onto the active span.
func Order(ctx context.Context, event, symbol, side, qty, intentID string, fields ...any) {
	span := oteltrace.SpanFromContext(ctx)
	if trace.Enabled() && span.SpanContext().IsValid() {
		span.AddEvent("order_"+strings.ToLower(event), oteltrace.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("side", side),
			attribute.String("quantity", qty),
			attribute.String("intent_id", intentID),
		))
	}

	allFields := append([]any{
		"type", "ORDER",
		"event", event,
		"symbol", symbol,
		"side", side,
		"quantity", qty,
		"intent_id", intentID,
	}, fields...)
	logWithTrace(ctx, slog.LevelInfo, "Order event", 3, allFields...)
}

func IsDebugEnabled() bool {
	return detailedLogging
}
