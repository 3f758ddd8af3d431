// Package web is the HTTP surface of the server.
//
// Routes:
//
//	GET  /ws/landmarks         tracker pushes landmark frames (JSON messages)
//	GET  /ws/state             streams pipeline snapshots to UIs
//	POST /api/sentence/clear   cancels the pending sentence and empties the buffer
//	POST /api/sentence/generate
//	                           generates the pending sentence now
//	GET  /api/settings         current user settings
//	PUT  /api/settings         validates, persists and applies user settings
//	GET  /healthz, /readyz     probes
//	GET  /metrics              Prometheus exposition
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/androsja/Se-alyze/internal/debounce"
	"github.com/androsja/Se-alyze/internal/health"
	"github.com/androsja/Se-alyze/internal/landmark"
	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/internal/pipeline"
	"github.com/androsja/Se-alyze/internal/settings"
)

// Controller is the subset of [pipeline.Pipeline] the API drives.
type Controller interface {
	Clear(ctx context.Context) error
	GenerateNow(ctx context.Context) (debounce.Decision, error)
	SetDelay(ctx context.Context, d time.Duration) error
}

// Config wires the server. Queue, Pipeline, Hub and Settings are required.
type Config struct {
	Queue    *landmark.Queue
	Pipeline Controller
	Hub      *pipeline.Hub
	Settings settings.Store

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Instruments defaults to [observe.DefaultMetrics].
	Instruments *observe.Metrics

	// AllowedOrigins are host patterns (path.Match syntax) accepted for
	// cross-origin requests and WebSocket upgrades.
	AllowedOrigins []string

	// Now stamps frames that arrive without a timestamp. Default: time.Now.
	Now func() time.Time
}

// Server holds the routes. Create with [New] and mount [Server.Handler].
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time
	mux     *http.ServeMux

	// settingsMu serialises read-modify-write cycles of PUT /api/settings.
	settingsMu sync.Mutex
}

// New validates cfg and registers the routes.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Queue == nil:
		return nil, errors.New("web: queue is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("web: pipeline is required")
	case cfg.Hub == nil:
		return nil, errors.New("web: hub is required")
	case cfg.Settings == nil:
		return nil, errors.New("web: settings store is required")
	}
	s := &Server{
		cfg:     cfg,
		metrics: cfg.Instruments,
		now:     cfg.Now,
		mux:     http.NewServeMux(),
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws/landmarks", s.handleLandmarks)
	s.mux.HandleFunc("GET /ws/state", s.handleState)

	s.mux.HandleFunc("POST /api/sentence/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/sentence/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(s.mux)
	}
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics)
	}
}

// Handler returns the routes wrapped in metrics, recovery and CORS middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(withRecovery(s.withCORS(s.mux)))
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// withRecovery turns handler panics into 500s and reports them to Sentry.
// Without sentry.Init the report is a no-op.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(r)
			hub.RecoverWithContext(r.Context(), rec)
			observe.Logger(r.Context()).Error("http handler panic", "panic", rec, "path", r.URL.Path)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// captureError logs err and forwards it to Sentry with the request attached.
func captureError(r *http.Request, err error, msg string) {
	observe.Logger(r.Context()).Error(msg, "err", err, "path", r.URL.Path)
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.Scope().SetTag("route", r.Pattern)
	hub.CaptureException(err)
}

// withCORS answers preflights and sets CORS headers for allowed origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range s.cfg.AllowedOrigins {
		if ok, _ := path.Match(strings.ToLower(pattern), host); ok {
			return true
		}
	}
	return false
}
