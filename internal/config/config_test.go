package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/androsja/Se-alyze/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Classifier: config.ClassifierConfig{
			ProviderEntry: config.ProviderEntry{Name: "tfserving", BaseURL: "http://localhost:8501", Model: "lsc"},
			Labels:        []string{"hola"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"tls missing key", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} }, "server.tls"},
		{"negative queue", func(c *config.Config) { c.Pipeline.FrameQueue = -1 }, "pipeline.frame_queue"},
		{"min hands over window", func(c *config.Config) { c.Pipeline.WindowSize, c.Pipeline.MinHandFrames = 10, 11 }, "min_hand_frames"},
		{"inverted thresholds", func(c *config.Config) { c.Pipeline.CommitThreshold, c.Pipeline.DisplayThreshold = 0.6, 0.8 }, "exceeds commit_threshold"},
		{"threshold above one", func(c *config.Config) { c.Pipeline.CommitThreshold = 1.2 }, "commit_threshold"},
		{"tick not shorter than delay", func(c *config.Config) { c.Pipeline.Delay, c.Pipeline.ProgressTick = time.Second, time.Second }, "progress_tick"},
		{"negative quiescent", func(c *config.Config) { c.Pipeline.Quiescent = -time.Second }, "pipeline.quiescent"},
		{"missing classifier", func(c *config.Config) { c.Classifier.Name = "" }, "classifier.name is required"},
		{"missing labels", func(c *config.Config) { c.Classifier.Labels = nil }, "labels or labels_file"},
		{"labels and file", func(c *config.Config) { c.Classifier.LabelsFile = "l.txt" }, "mutually exclusive"},
		{"backend without name", func(c *config.Config) {
			c.Generation.Backends = []config.ProviderEntry{{Model: "m"}}
		}, "generation.backends[0].name"},
		{"backend without model", func(c *config.Config) {
			c.Generation.Backends = []config.ProviderEntry{{Name: "groq"}}
		}, "generation.backends[0].model"},
		{"duplicate backend", func(c *config.Config) {
			c.Generation.Backends = []config.ProviderEntry{{Name: "groq", Model: "m"}, {Name: "groq", Model: "m"}}
		}, "duplicate"},
		{"same provider two models", func(c *config.Config) {
			c.Generation.Backends = []config.ProviderEntry{{Name: "groq", Model: "a"}, {Name: "groq", Model: "b"}}
		}, ""},
		{"temperature", func(c *config.Config) { c.Generation.Temperature = 3 }, "generation.temperature"},
		{"verifier coverage", func(c *config.Config) { c.Generation.Verifier.MinCoverage = 1.5 }, "min_coverage"},
		{"breaker negative", func(c *config.Config) { c.Generation.CircuitBreaker.MaxFailures = -1 }, "circuit_breaker"},
		{"tts channels", func(c *config.Config) { c.TTS.Output.Channels = 6 }, "tts.output.channels"},
		{"settings backend", func(c *config.Config) { c.Settings.Backend = "redis" }, "settings.backend"},
		{"postgres without dsn", func(c *config.Config) { c.Settings.Backend = config.SettingsPostgres }, "postgres_dsn"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Settings.Backend = "redis"
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "settings.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestProviderEntry_ResolveAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "from-default-env")
	t.Setenv("MY_KEY", "from-named-env")

	tests := []struct {
		name  string
		entry config.ProviderEntry
		want  string
	}{
		{"inline wins", config.ProviderEntry{Name: "groq", APIKey: "inline", APIKeyEnv: "MY_KEY"}, "inline"},
		{"named env", config.ProviderEntry{Name: "groq", APIKeyEnv: "MY_KEY"}, "from-named-env"},
		{"default env", config.ProviderEntry{Name: "groq"}, "from-default-env"},
		{"unset", config.ProviderEntry{Name: "deepseek-local"}, ""},
		{"no name", config.ProviderEntry{}, ""},
	}
	for _, tc := range tests {
		if got := tc.entry.ResolveAPIKey(); got != tc.want {
			t.Errorf("%s: ResolveAPIKey() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"language": "es", "rate": 22050, "f": 1.5, "bad": true}}
	if e.OptString("language") != "es" || e.OptString("rate") != "" || e.OptString("missing") != "" {
		t.Error("OptString mismatch")
	}
	if e.OptInt("rate") != 22050 || e.OptInt("f") != 1 || e.OptInt("bad") != 0 {
		t.Error("OptInt mismatch")
	}
	var empty config.ProviderEntry
	if empty.OptString("x") != "" || empty.OptInt("x") != 0 {
		t.Error("nil options should yield zero values")
	}
}

func TestClassifierConfig_ResolveLabels(t *testing.T) {
	t.Parallel()

	inline := config.ClassifierConfig{Labels: []string{"hola", "yo"}}
	if got, err := inline.ResolveLabels(); err != nil || !slices.Equal(got, inline.Labels) {
		t.Fatalf("inline labels = %v, %v", got, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	if err := os.WriteFile(path, []byte("# vocabulary\nhola\n\n  gracias \n_no_hands\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := config.ClassifierConfig{LabelsFile: path}.ResolveLabels()
	if err != nil {
		t.Fatalf("ResolveLabels: %v", err)
	}
	if want := []string{"hola", "gracias", "_no_hands"}; !slices.Equal(got, want) {
		t.Errorf("labels = %v, want %v", got, want)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (config.ClassifierConfig{LabelsFile: empty}).ResolveLabels(); err == nil {
		t.Error("expected error for empty labels file")
	}
	if _, err := (config.ClassifierConfig{LabelsFile: filepath.Join(dir, "missing")}).ResolveLabels(); err == nil {
		t.Error("expected error for missing labels file")
	}
}
