package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// syncBuffer is a bytes.Buffer safe for handlers logging from server
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the default logger into a buffer at level until the
// test ends. Tests using it must not run in parallel.
func captureLogs(t *testing.T, level slog.Level) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return buf
}

// useTracer installs an in-memory tracer provider as the global one until
// the test ends. Tests using it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartSpan_CarriesPipelineAttributes(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "phrase.generate",
		trace.WithAttributes(
			KeySession.String("sess-1"),
			KeyProvider.String("groq"),
			KeyWords.Int(3),
		),
	)
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "phrase.generate" {
		t.Errorf("span name = %q", got.Name)
	}
	if cid != got.SpanContext.TraceID().String() {
		t.Errorf("CorrelationID = %q, want span trace ID %s", cid, got.SpanContext.TraceID())
	}
	if v, ok := spanAttr(got.Attributes, KeySession); !ok || v.AsString() != "sess-1" {
		t.Errorf("%s = %v", KeySession, v)
	}
	if v, ok := spanAttr(got.Attributes, KeyProvider); !ok || v.AsString() != "groq" {
		t.Errorf("%s = %v", KeyProvider, v)
	}
	if v, ok := spanAttr(got.Attributes, KeyWords); !ok || v.AsInt64() != 3 {
		t.Errorf("%s = %v", KeyWords, v)
	}
	if got.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", got.InstrumentationScope.Name, tracerName)
	}
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		Remote:  true,
	})

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"no span", context.Background(), ""},
		{"remote parent", trace.ContextWithRemoteSpanContext(context.Background(), remote), "4bf92f3577b34da6a3ce929d0e0e4736"},
		{"invalid span context", trace.ContextWithSpanContext(context.Background(), trace.SpanContext{}), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CorrelationID(tc.ctx); got != tc.want {
				t.Errorf("CorrelationID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSessionLogger(t *testing.T) {
	useTracer(t)

	spanCtx, span := StartSpan(context.Background(), "pipeline.finalize")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		session string
		want    []string
		absent  []string
	}{
		{"span and session", spanCtx, "sess-9", []string{"trace_id=" + CorrelationID(spanCtx), "span_id=", "session_id=sess-9"}, nil},
		{"session only", context.Background(), "sess-9", []string{"session_id=sess-9"}, []string{"trace_id"}},
		{"neither", context.Background(), "", nil, []string{"trace_id", "session_id"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t, slog.LevelInfo)
			SessionLogger(tc.ctx, tc.session).Info("sentence ready")
			out := buf.String()
			for _, s := range tc.want {
				if !strings.Contains(out, s) {
					t.Errorf("log %q missing %q", out, s)
				}
			}
			for _, s := range tc.absent {
				if strings.Contains(out, s) {
					t.Errorf("log %q should not contain %q", out, s)
				}
			}
		})
	}
}
