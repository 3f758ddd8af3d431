package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/androsja/Se-alyze/internal/debounce"
	"github.com/androsja/Se-alyze/internal/health"
	"github.com/androsja/Se-alyze/internal/landmark"
	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/internal/pipeline"
	"github.com/androsja/Se-alyze/internal/settings"
)

// fakeController records pipeline commands.
type fakeController struct {
	mu       sync.Mutex
	clears   int
	delays   []time.Duration
	decision debounce.Decision
	err      error
}

func (f *fakeController) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return f.err
}

func (f *fakeController) GenerateNow(context.Context) (debounce.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decision, f.err
}

func (f *fakeController) SetDelay(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	return f.err
}

func (f *fakeController) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeController) delayCalls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func (f *fakeController) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fixture struct {
	srv   *httptest.Server
	ctl   *fakeController
	queue *landmark.Queue
	hub   *pipeline.Hub
	store *settings.MemoryStore
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		ctl:   &fakeController{decision: debounce.DecisionExpedited},
		queue: landmark.NewQueue(8),
		hub:   pipeline.NewHub(),
		store: &settings.MemoryStore{},
	}
	cfg := Config{
		Queue:          f.queue,
		Pipeline:       f.ctl,
		Hub:            f.hub,
		Settings:       f.store,
		Health:         health.New(),
		Metrics:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Instruments:    m,
		AllowedOrigins: []string{"ui.example.com"},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		f.hub.Close()
		f.srv.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := New(Config{Queue: landmark.NewQueue(1), Pipeline: &fakeController{}, Hub: pipeline.NewHub()}); err == nil {
		t.Fatal("expected error for missing settings store")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/sentence/clear", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := f.ctl.clearCount(); n != 1 {
		t.Errorf("clears = %d", n)
	}
	if resp := f.do(t, http.MethodGet, "/api/sentence/clear", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET clear status = %d, want 405", resp.StatusCode)
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/sentence/generate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body decisionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Decision != "expedited" {
		t.Errorf("decision = %q", body.Decision)
	}
}

func TestPipelineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not running", pipeline.ErrNotRunning, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.ctl.fail(tc.err)
			if resp := f.do(t, http.MethodPost, "/api/sentence/generate", ""); resp.StatusCode != tc.want {
				t.Errorf("generate status = %d, want %d", resp.StatusCode, tc.want)
			}
			if resp := f.do(t, http.MethodPost, "/api/sentence/clear", ""); resp.StatusCode != tc.want {
				t.Errorf("clear status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSettings_GetDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/settings", "")
	var doc settings.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.SentenceDelayMS != 5000 || doc.CameraFacing != "back" {
		t.Errorf("GET settings = %+v", doc)
	}
}

func TestSettings_Put(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/api/settings", `{"sentence_delay_ms":3000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc settings.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.SentenceDelayMS != 3000 || doc.CameraFacing != "back" {
		t.Errorf("PUT response = %+v", doc)
	}
	stored, _ := f.store.Load(context.Background())
	if stored.SentenceDelay != 3*time.Second {
		t.Errorf("stored = %+v", stored)
	}
	if calls := f.ctl.delayCalls(); len(calls) != 1 || calls[0] != 3*time.Second {
		t.Errorf("SetDelay calls = %v", calls)
	}

	// A partial update keeps the stored delay.
	f.do(t, http.MethodPut, "/api/settings", `{"camera_facing":"front"}`)
	stored, _ = f.store.Load(context.Background())
	if stored.SentenceDelay != 3*time.Second || stored.CameraFacing != settings.FacingFront {
		t.Errorf("after partial update = %+v", stored)
	}
}

func TestSettings_PutRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"off step", `{"sentence_delay_ms":2500}`, http.StatusUnprocessableEntity},
		{"bad facing", `{"camera_facing":"left"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"volume":3}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if resp := f.do(t, http.MethodPut, "/api/settings", tc.body); resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if len(f.ctl.delayCalls()) != 0 {
				t.Error("rejected settings were applied")
			}
		})
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if resp := f.do(t, http.MethodGet, path, ""); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}

	bare := newFixture(t, func(c *Config) { c.Metrics, c.Health = nil, nil })
	if resp := bare.do(t, http.MethodGet, "/metrics", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/settings", nil)
		req.Header.Set("Origin", origin)
		resp, err := f.srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := preflight("https://ui.example.com")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("allowed preflight = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://ui.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	resp = preflight("https://evil.example.net")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin %q", got)
	}
}

func TestWithRecovery(t *testing.T) {
	t.Parallel()

	h := withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
