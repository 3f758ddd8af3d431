// Package app wires all Se-alyze subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface and drives the recognition loop,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithSink, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/androsja/Se-alyze/internal/config"
	"github.com/androsja/Se-alyze/internal/debounce"
	"github.com/androsja/Se-alyze/internal/health"
	"github.com/androsja/Se-alyze/internal/landmark"
	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/internal/phrase"
	"github.com/androsja/Se-alyze/internal/pipeline"
	"github.com/androsja/Se-alyze/internal/resilience"
	"github.com/androsja/Se-alyze/internal/sentence"
	"github.com/androsja/Se-alyze/internal/settings"
	"github.com/androsja/Se-alyze/internal/speech"
	"github.com/androsja/Se-alyze/internal/stability"
	"github.com/androsja/Se-alyze/internal/web"
	"github.com/androsja/Se-alyze/internal/window"
	"github.com/androsja/Se-alyze/pkg/audio/player"
	"github.com/androsja/Se-alyze/pkg/provider/classifier"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
)

const (
	defaultListenAddr   = ":8080"
	defaultSettingsPath = "settings.yaml"
	httpDrainTimeout    = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Classifier classifier.Provider

	// Generation lists the text-generation backends in fallback order.
	Generation []phrase.Backend

	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics     *observe.Metrics
	metricsHTTP http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	store     settings.Store
	queue     *landmark.Queue
	filter    *stability.Filter
	chain     *phrase.Chain
	sink      speech.Sink
	scheduler *debounce.Scheduler
	hub       *pipeline.Hub
	pipeline  *pipeline.Pipeline
	health    *health.Handler
	handler   http.Handler
	httpSrv   *http.Server

	replay      io.Reader
	replaySpeed float64

	// addr is set once the listener is bound.
	addrMu sync.Mutex
	addr   net.Addr
	bound  chan struct{}

	// closeStore releases the settings store connection, if any.
	closeStore func()

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsStore injects a settings store instead of creating one from config.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSink injects a speech sink instead of building TTS playback from config.
func WithSink(s speech.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// WithReplay feeds recorded JSON-lines frames from r into the pipeline at
// speed times real time, alongside any live trackers.
func WithReplay(r io.Reader, speed float64) Option {
	return func(a *App) {
		a.replay = r
		a.replaySpeed = speed
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: settings store connection,
// stage construction, speech output and route registration. Nothing listens
// or runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Classifier == nil {
		return nil, errors.New("app: a classifier provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		bound:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings store ────────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. Recognition stages ────────────────────────────────────────────
	if err := a.initStages(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init stages: %w", err)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	if err := a.initWeb(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init web: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSettings opens the configured settings store unless one was injected.
func (a *App) initSettings(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Settings
	switch sc.Backend {
	case config.SettingsMemory:
		a.store = &settings.MemoryStore{}
	case config.SettingsPostgres:
		pg, err := settings.OpenPostgres(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = pg
		a.closeStore = pg.Close
	default:
		path := sc.Path
		if path == "" {
			path = defaultSettingsPath
		}
		a.store = settings.NewFileStore(path)
	}
	return nil
}

// initStages builds the queue, window, filter, word buffer, fallback chain,
// speech sink, scheduler and pipeline.
func (a *App) initStages(ctx context.Context) error {
	pc := a.cfg.Pipeline

	delay := pc.Delay
	if user, err := a.store.Load(ctx); err != nil {
		slog.Warn("user settings unavailable, using configured delay", "err", err)
	} else {
		delay = user.SentenceDelay
	}

	a.queue = landmark.NewQueue(pc.FrameQueue)

	win, err := window.New(a.providers.Classifier, window.Config{
		Size:            pc.WindowSize,
		MinHandFrames:   pc.MinHandFrames,
		TechnicalPrefix: pc.TechnicalPrefix,
	})
	if err != nil {
		return err
	}

	commit, display := pc.Thresholds()
	a.filter, err = stability.New(stability.Config{
		CommitThreshold:  commit,
		DisplayThreshold: display,
		StaleAfter:       pc.StaleAfter,
		TechnicalPrefix:  pc.TechnicalPrefix,
	})
	if err != nil {
		return err
	}

	a.chain, err = phrase.New(a.chainConfig(), a.providers.Generation...)
	if err != nil {
		return err
	}

	if err := a.initSink(); err != nil {
		return fmt.Errorf("speech output: %w", err)
	}

	a.scheduler, err = debounce.New(a.chain, a.sink, debounce.Config{
		Delay:           delay,
		Tick:            pc.ProgressTick,
		Quiescent:       pc.Quiescent,
		MaxFinalizeWait: pc.MaxFinalizeWait,
	})
	if err != nil {
		return err
	}

	a.hub = pipeline.NewHub()
	a.pipeline, err = pipeline.New(pipeline.Config{
		Frames:    a.queue.Frames(),
		Window:    win,
		Filter:    a.filter,
		Words:     sentence.New(pc.TechnicalPrefix),
		Scheduler: a.scheduler,
		Hub:       a.hub,
		Metrics:   a.metrics,
	})
	if err != nil {
		return err
	}

	slog.Info("pipeline ready",
		"delay", delay,
		"commit_threshold", commit,
		"display_threshold", display,
		"backends", a.chain.Backends(),
	)
	return nil
}

func (a *App) chainConfig() phrase.Config {
	gc := a.cfg.Generation
	cfg := phrase.Config{
		Prompt:      phrase.Prompt{Instruction: gc.Instruction, Locale: gc.Locale},
		Budget:      gc.Budget,
		Temperature: gc.Temperature,
		MaxTokens:   gc.MaxTokens,
		Breaker: resilience.BreakerConfig{
			MaxFailures:  gc.CircuitBreaker.MaxFailures,
			ResetTimeout: gc.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  gc.CircuitBreaker.HalfOpenMax,
		},
		Metrics: a.metrics,
	}
	if !gc.Verifier.Disabled {
		cfg.Verifier = &phrase.Verifier{
			MatchThreshold: gc.Verifier.MatchThreshold,
			MinCoverage:    gc.Verifier.MinCoverage,
			MaxExpansion:   gc.Verifier.MaxExpansion,
		}
	}
	return cfg
}

// initSink creates TTS playback, or a logging sink when no TTS provider is
// configured.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	sink, err := a.buildSink()
	if err != nil {
		return err
	}
	a.sink = sink
	return nil
}

func (a *App) buildSink() (speech.Sink, error) {
	if a.providers.TTS == nil {
		return speech.LogSink{Logger: slog.Default().With("component", "speech")}, nil
	}
	tc := a.cfg.TTS

	w, err := openOutput(tc.Output.Path)
	if err != nil {
		return nil, err
	}
	format := a.providers.TTS.Format()
	if tc.Output.SampleRate > 0 {
		format.SampleRate = tc.Output.SampleRate
	}
	if tc.Output.Channels > 0 {
		format.Channels = tc.Output.Channels
	}
	var popts []player.Option
	if tc.Output.Realtime {
		popts = append(popts, player.WithRealtime())
	}
	pl := player.New(w, format, popts...)

	voice := tts.Voice{ID: tc.Voice, Language: a.cfg.Generation.Locale}
	slog.Info("speech output ready", "provider", tc.Name, "format", format.String(), "output", outputName(tc.Output.Path))
	return speech.NewTTSSink(a.providers.TTS, pl,
		speech.WithVoice(voice),
		speech.WithMetrics(a.metrics),
		speech.WithName(tc.Name),
	), nil
}

// stdout is never closed by the player.
type nopCloseWriter struct{ io.Writer }

// openOutput opens path for PCM output. "" and "-" select stdout. A FIFO
// blocks here until a reader such as aplay attaches.
func openOutput(path string) (io.Writer, error) {
	if path == "" || path == "-" {
		return nopCloseWriter{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return f, nil
}

func outputName(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}

// initWeb builds the health checks and the HTTP handler.
func (a *App) initWeb() error {
	checks := []health.Checker{
		health.Func("pipeline", "recognition loop is not running", a.pipeline.Running),
		{
			Name: "settings",
			Check: func(ctx context.Context) error {
				_, err := a.store.Load(ctx)
				return err
			},
		},
	}
	if p := a.providers.TTS; p != nil {
		checks = append(checks, health.Checker{
			Name: "tts",
			Check: func(ctx context.Context) error {
				_, err := p.ListVoices(ctx)
				return err
			},
		})
	}
	a.health = health.New(checks...)

	srv, err := web.New(web.Config{
		Queue:          a.queue,
		Pipeline:       a.pipeline,
		Hub:            a.hub,
		Settings:       a.store,
		Health:         a.health,
		Metrics:        a.metricsHTTP,
		Instruments:    a.metrics,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	a.handler = srv.Handler()

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the recognition loop.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Queue returns the landmark queue fed by trackers.
func (a *App) Queue() *landmark.Queue { return a.queue }

// Addr blocks until Run has bound its listener and returns its address, or
// nil if ctx is done first.
func (a *App) Addr(ctx context.Context) net.Addr {
	select {
	case <-a.bound:
		a.addrMu.Lock()
		defer a.addrMu.Unlock()
		return a.addr
	case <-ctx.Done():
		return nil
	}
}

// SetThresholds applies new stability thresholds to the running pipeline.
// Used by the config watcher.
func (a *App) SetThresholds(ctx context.Context, commit, display float64) error {
	return a.pipeline.SetThresholds(ctx, commit, display)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP server and the recognition loop and blocks until ctx
// is cancelled or the server fails. On cancellation the server is drained
// and Run returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.bound)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pipeline.Run(gctx)
	})

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpDrainTimeout)
		defer cancel()
		// Live WebSocket streams end when the hub and queue close in Shutdown.
		return a.httpSrv.Shutdown(sctx)
	})

	if a.replay != nil {
		g.Go(func() error {
			n, err := landmark.Replay(gctx, a.replay, a.queue, a.replaySpeed)
			if err != nil && gctx.Err() == nil {
				slog.Error("replay stopped", "frames", n, "err", err)
				return nil
			}
			slog.Info("replay finished", "frames", n)
			return nil
		})
	}

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the HTTP server first, then the
// snapshot hub, the scheduler, the speech sink, the settings store and the
// landmark queue. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := a.closers()
		slog.Info("shutting down", "closers", len(closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, c := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := c.close(); err != nil {
				slog.Warn("closer error", "name", c.name, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

type closer struct {
	name  string
	close func() error
}

// closers lists the teardown steps for whatever has been initialised, in
// shutdown order. The scheduler stops before the sink it speaks through.
func (a *App) closers() []closer {
	var cs []closer
	if a.hub != nil {
		cs = append(cs, closer{"hub", func() error { a.hub.Close(); return nil }})
	}
	if a.scheduler != nil {
		cs = append(cs, closer{"scheduler", func() error { a.scheduler.Close(); return nil }})
	}
	if a.sink != nil {
		cs = append(cs, closer{"speech", a.sink.Shutdown})
	}
	if a.closeStore != nil {
		cs = append(cs, closer{"settings", func() error { a.closeStore(); return nil }})
	}
	if a.queue != nil {
		cs = append(cs, closer{"landmarks", func() error { a.queue.Close(); return nil }})
	}
	return cs
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for _, c := range a.closers() {
		_ = c.close()
	}
}
