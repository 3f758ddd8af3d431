package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the pipeline tracer.
const tracerName = "github.com/androsja/Se-alyze"

// Attribute keys shared by pipeline spans and log records.
const (
	KeySession  = attribute.Key("sealyze.session_id")
	KeyProvider = attribute.Key("sealyze.provider")
	KeyWords    = attribute.Key("sealyze.words")
)

// Tracer returns the tracer for pipeline spans. It resolves the globally
// registered [trace.TracerProvider] on every call so tests can swap it.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" when ctx
// carries no valid span.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id from
// the span in ctx. Without a span the default logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// SessionLogger is [Logger] with the generation session attached.
func SessionLogger(ctx context.Context, sessionID string) *slog.Logger {
	l := Logger(ctx)
	if sessionID != "" {
		l = l.With(slog.String("session_id", sessionID))
	}
	return l
}
