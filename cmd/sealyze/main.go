// Command sealyze is the main entry point for the Se-alyze sign-to-speech server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/androsja/Se-alyze/internal/app"
	"github.com/androsja/Se-alyze/internal/config"
	"github.com/androsja/Se-alyze/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	replayPath := flag.String("replay", "", "JSON-lines landmark recording to feed into the pipeline")
	replaySpeed := flag.Float64("replay-speed", 1, "replay speed multiplier")
	watch := flag.Bool("watch", true, "reload log level and thresholds when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sealyze: config file %q not found, copy configs/example.yaml to %q to get started\n", *configPath, *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sealyze: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("sealyze starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Error reporting ───────────────────────────────────────────────────────
	if cfg.Server.SentryDSN != "" {
		env := cfg.Server.Environment
		if env == "" {
			env = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Server.SentryDSN,
			Environment:      env,
			Release:          "sealyze@" + version,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			slog.Warn("sentry init failed", "err", err)
		} else {
			slog.Info("sentry initialized", "environment", env)
			defer sentry.Flush(2 * time.Second)
		}
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "sealyze",
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})),
	}
	if *replayPath != "" {
		r, err := openReplay(*replayPath)
		if err != nil {
			slog.Error("failed to open replay", "err", err)
			return 1
		}
		defer r.Close()
		opts = append(opts, app.WithReplay(r, *replaySpeed))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *replayPath)

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		sentry.CaptureException(err)
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(ctx, application, &level, config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("config watcher stopped", "err", err)
				}
			}()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		sentry.CaptureException(runErr)
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// thresholdSetter is the part of [app.App] the config watcher drives.
type thresholdSetter interface {
	SetThresholds(ctx context.Context, commit, display float64) error
}

// applyConfigChange applies the hot-reloadable parts of a config change and
// warns about the rest.
func applyConfigChange(ctx context.Context, a thresholdSetter, level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		if err := a.SetThresholds(ctx, d.CommitThreshold, d.DisplayThreshold); err != nil {
			slog.Warn("threshold reload rejected", "err", err)
		} else {
			slog.Info("thresholds changed", "commit", d.CommitThreshold, "display", d.DisplayThreshold)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires a restart", "sections", d.RestartRequired)
	}
}

func openReplay(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, replay string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Se-alyze — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Classifier", cfg.Classifier.Name, cfg.Classifier.Model)
	if len(cfg.Generation.Backends) == 0 {
		printProvider("Generation", "", "")
	}
	for i, b := range cfg.Generation.Backends {
		printProvider(fmt.Sprintf("Generation %d", i+1), b.Name, b.Model)
	}
	printProvider("TTS", cfg.TTS.Name, cfg.TTS.Model)
	backend := string(cfg.Settings.Backend)
	if backend == "" {
		backend = string(config.SettingsFile)
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Settings", backend)
	if replay != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Replay", truncate(replay))
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:16]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
