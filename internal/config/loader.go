package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"classifier": {"tfserving"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"coqui", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validatePipeline(cfg.Pipeline)...)

	// Classifier
	if cfg.Classifier.Name == "" {
		errs = append(errs, errors.New("classifier.name is required"))
	} else {
		validateProviderName("classifier", cfg.Classifier.Name)
	}
	if len(cfg.Classifier.Labels) > 0 && cfg.Classifier.LabelsFile != "" {
		errs = append(errs, errors.New("classifier: labels and labels_file are mutually exclusive"))
	}
	if cfg.Classifier.Name != "" && len(cfg.Classifier.Labels) == 0 && cfg.Classifier.LabelsFile == "" {
		errs = append(errs, errors.New("classifier: one of labels or labels_file is required"))
	}

	errs = append(errs, validateGeneration(cfg.Generation)...)

	// TTS
	if cfg.TTS.Name == "" {
		slog.Warn("tts.name is empty; sentences will only be logged")
	} else {
		validateProviderName("tts", cfg.TTS.Name)
		if cfg.TTS.Output.Path == "" {
			slog.Warn("tts.output.path is empty; synthesized audio will be discarded")
		}
	}
	if cfg.TTS.Output.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("tts.output.sample_rate %d must not be negative", cfg.TTS.Output.SampleRate))
	}
	if ch := cfg.TTS.Output.Channels; ch != 0 && ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("tts.output.channels %d is invalid; valid values: 1, 2", ch))
	}

	// Settings
	if b := cfg.Settings.Backend; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("settings.backend %q is invalid; valid values: file, postgres, memory", b))
	}
	if cfg.Settings.Backend == SettingsPostgres && cfg.Settings.PostgresDSN == "" {
		errs = append(errs, errors.New("settings.postgres_dsn is required when backend is postgres"))
	}

	return errors.Join(errs...)
}

func validatePipeline(p PipelineConfig) []error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"pipeline.frame_queue", p.FrameQueue},
		{"pipeline.window_size", p.WindowSize},
		{"pipeline.min_hand_frames", p.MinHandFrames},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}
	if p.WindowSize > 0 && p.MinHandFrames > p.WindowSize {
		errs = append(errs, fmt.Errorf("pipeline.min_hand_frames %d exceeds window_size %d", p.MinHandFrames, p.WindowSize))
	}

	commit, display := p.Thresholds()
	if commit <= 0 || commit > 1 {
		errs = append(errs, fmt.Errorf("pipeline.commit_threshold %.2f is out of range (0, 1]", commit))
	}
	if display <= 0 || display > 1 {
		errs = append(errs, fmt.Errorf("pipeline.display_threshold %.2f is out of range (0, 1]", display))
	}
	if display > commit {
		errs = append(errs, fmt.Errorf("pipeline.display_threshold %.2f exceeds commit_threshold %.2f", display, commit))
	}

	for _, f := range []struct {
		name string
		v    int64
	}{
		{"pipeline.stale_after", int64(p.StaleAfter)},
		{"pipeline.delay", int64(p.Delay)},
		{"pipeline.progress_tick", int64(p.ProgressTick)},
		{"pipeline.quiescent", int64(p.Quiescent)},
		{"pipeline.max_finalize_wait", int64(p.MaxFinalizeWait)},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if p.ProgressTick > 0 && p.Delay > 0 && p.ProgressTick >= p.Delay {
		errs = append(errs, fmt.Errorf("pipeline.progress_tick %s must be shorter than delay %s", p.ProgressTick, p.Delay))
	}
	return errs
}

func validateGeneration(g GenerationConfig) []error {
	var errs []error
	if len(g.Backends) == 0 {
		slog.Warn("generation.backends is empty; sentences will be the raw signed words")
	}
	seen := make(map[string]int, len(g.Backends))
	for i, b := range g.Backends {
		prefix := fmt.Sprintf("generation.backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", b.Name)
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		key := b.Name + "/" + b.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of generation.backends[%d]", prefix, key, prev))
		}
		seen[key] = i
		if b.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
	}
	if g.Budget < 0 {
		errs = append(errs, errors.New("generation.budget must not be negative"))
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", g.Temperature))
	}
	if g.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d must not be negative", g.MaxTokens))
	}
	v := g.Verifier
	if v.MatchThreshold < 0 || v.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("generation.verifier.match_threshold %.2f is out of range [0, 1]", v.MatchThreshold))
	}
	if v.MinCoverage < 0 || v.MinCoverage > 1 {
		errs = append(errs, fmt.Errorf("generation.verifier.min_coverage %.2f is out of range [0, 1]", v.MinCoverage))
	}
	if v.MaxExpansion < 0 {
		errs = append(errs, fmt.Errorf("generation.verifier.max_expansion %d must not be negative", v.MaxExpansion))
	}
	cb := g.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("generation.circuit_breaker values must not be negative"))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
