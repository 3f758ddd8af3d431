package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const statusCodeKey = attribute.Key("http.response.status_code")

// routesMux mirrors the shape of the server's API routes.
func routesMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/settings", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"delay_ms":5000,"facing":"back"}`))
	})
	mux.HandleFunc("POST /api/sentence/clear", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func spanStatus(spans tracetest.SpanStubs, name string) (int64, bool) {
	for _, s := range spans {
		if s.Name != name {
			continue
		}
		if v, ok := spanAttr(s.Attributes, statusCodeKey); ok {
			return v.AsInt64(), true
		}
	}
	return 0, false
}

func TestMiddleware_RoutesAndCorrelation(t *testing.T) {
	exp := useTracer(t)
	m, reader := newTestMetrics(t)
	handler := Middleware(m)(routesMux())

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	tests := []struct {
		method, path string
		traceparent  string
		wantStatus   int
	}{
		{http.MethodGet, "/api/settings", "", http.StatusOK},
		{http.MethodGet, "/api/settings", parent, http.StatusOK},
		{http.MethodPost, "/api/sentence/clear", "", http.StatusNoContent},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.traceparent != "" {
			req.Header.Set("traceparent", tc.traceparent)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tc.wantStatus {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, rec.Code, tc.wantStatus)
		}
		cid := rec.Header().Get("X-Correlation-ID")
		switch {
		case tc.traceparent != "" && cid != "4bf92f3577b34da6a3ce929d0e0e4736":
			t.Errorf("%s %s correlation ID = %q, want the incoming trace ID", tc.method, tc.path, cid)
		case len(cid) != 32:
			t.Errorf("%s %s correlation ID = %q", tc.method, tc.path, cid)
		}
		if !strings.Contains(rec.Header().Get("traceparent"), cid) {
			t.Errorf("%s %s traceparent %q does not carry %s", tc.method, tc.path, rec.Header().Get("traceparent"), cid)
		}
	}

	met := findMetric(collect(t, reader), "sealyze.http.request.duration")
	if met == nil {
		t.Fatal("request duration not recorded")
	}
	counts := map[string]uint64{}
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /api/settings":        2,
		"POST /api/sentence/clear": 1,
		"/nope":                    1,
	}
	for route, n := range want {
		if counts[route] != n {
			t.Errorf("route %q count = %d, want %d (all: %v)", route, counts[route], n, counts)
		}
	}

	spans := exp.GetSpans()
	if code, ok := spanStatus(spans, "HTTP POST /api/sentence/clear"); !ok || code != http.StatusNoContent {
		t.Errorf("clear span status = %d (found %v)", code, ok)
	}
	if code, ok := spanStatus(spans, "HTTP GET /nope"); !ok || code != http.StatusNotFound {
		t.Errorf("unmatched span status = %d (found %v)", code, ok)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	m, _ := newTestMetrics(t)
	handler := Middleware(m)(routesMux())

	tests := []struct {
		name      string
		level     slog.Level
		wantProbe bool
	}{
		{"info hides probes", slog.LevelInfo, false},
		{"debug shows probes", slog.LevelDebug, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t, tc.level)
			for _, path := range []string{"/healthz", "/api/settings"} {
				handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
			}
			out := buf.String()
			if !strings.Contains(out, "path=/api/settings") {
				t.Errorf("API request not logged: %s", out)
			}
			if got := strings.Contains(out, "path=/healthz"); got != tc.wantProbe {
				t.Errorf("probe logged = %v, want %v: %s", got, tc.wantProbe, out)
			}
		})
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	exp := useTracer(t)
	buf := captureLogs(t, slog.LevelInfo)
	m, _ := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/state", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	})
	srv := httptest.NewServer(Middleware(m)(mux))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/state", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("Read err = %v, want normal closure", err)
	}

	// The span ends after the handler returns and the request is logged.
	deadline := time.Now().Add(2 * time.Second)
	code, ok := spanStatus(exp.GetSpans(), "HTTP GET /ws/state")
	for !ok {
		if time.Now().After(deadline) {
			t.Fatal("upgrade span never ended")
		}
		time.Sleep(10 * time.Millisecond)
		code, ok = spanStatus(exp.GetSpans(), "HTTP GET /ws/state")
	}
	if code != http.StatusSwitchingProtocols {
		t.Errorf("span status = %d, want 101", code)
	}
	out := buf.String()
	if !strings.Contains(out, "upgraded=true") || !strings.Contains(out, "status=101") {
		t.Errorf("upgrade not logged as such: %s", out)
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected error hijacking a writer without Hijacker")
	}
	if rec.hijacked || rec.statusCode != http.StatusOK {
		t.Errorf("failed hijack changed state: hijacked=%v status=%d", rec.hijacked, rec.statusCode)
	}
}
