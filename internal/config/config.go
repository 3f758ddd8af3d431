// Package config provides the configuration schema, loader, and provider
// registry for the Se-alyze sign-to-speech server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/androsja/Se-alyze/internal/stability"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SettingsBackend selects where user settings are persisted.
type SettingsBackend string

const (
	SettingsFile     SettingsBackend = "file"
	SettingsPostgres SettingsBackend = "postgres"
	SettingsMemory   SettingsBackend = "memory"
)

// IsValid reports whether b is a recognised settings backend.
func (b SettingsBackend) IsValid() bool {
	switch b {
	case SettingsFile, SettingsPostgres, SettingsMemory:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Generation GenerationConfig `yaml:"generation"`
	TTS        TTSConfig        `yaml:"tts"`
	Settings   SettingsConfig   `yaml:"settings"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns accepted for WebSocket upgrades from
	// browsers on other origins (e.g. "localhost:5173").
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SentryDSN enables panic and error reporting to Sentry when set.
	SentryDSN string `yaml:"sentry_dsn"`

	// Environment tags Sentry events. Default "development".
	Environment string `yaml:"environment"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig tunes the recognition loop. Zero values select the defaults
// of the respective stage.
type PipelineConfig struct {
	// FrameQueue bounds the landmark queue; the oldest frame is dropped when full.
	FrameQueue int `yaml:"frame_queue"`

	// WindowSize is the number of frames fed to the classifier.
	WindowSize int `yaml:"window_size"`

	// MinHandFrames is the minimum number of frames with hands in a window
	// before the classifier is consulted.
	MinHandFrames int `yaml:"min_hand_frames"`

	// TechnicalPrefix marks classifier labels that are never words.
	TechnicalPrefix string `yaml:"technical_prefix"`

	CommitThreshold  float64       `yaml:"commit_threshold"`
	DisplayThreshold float64       `yaml:"display_threshold"`
	StaleAfter       time.Duration `yaml:"stale_after"`

	// Delay is the sentence delay used until user settings override it.
	Delay           time.Duration `yaml:"delay"`
	ProgressTick    time.Duration `yaml:"progress_tick"`
	Quiescent       time.Duration `yaml:"quiescent"`
	MaxFinalizeWait time.Duration `yaml:"max_finalize_wait"`
}

// Thresholds returns the commit and display thresholds with defaults applied.
func (p PipelineConfig) Thresholds() (commit, display float64) {
	commit, display = p.CommitThreshold, p.DisplayThreshold
	if commit == 0 {
		commit = stability.DefaultCommitThreshold
	}
	if display == 0 {
		display = stability.DefaultDisplayThreshold
	}
	return commit, display
}

// ProviderEntry is the configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "coqui").
	Name string `yaml:"name"`

	// APIKey is the credential for hosted providers. Prefer APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the credential.
	// Default: <NAME>_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Timeout bounds a single request. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ResolveAPIKey returns APIKey, or the value of APIKeyEnv, or the value of
// <NAME>_API_KEY, in that order.
func (e ProviderEntry) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	env := e.APIKeyEnv
	if env == "" && e.Name != "" {
		env = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(e.Name)) + "_API_KEY"
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// OptString extracts a string option. It returns "" if the key is absent or
// not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt extracts an integer option. YAML decodes integers as int.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// ClassifierConfig selects the sequence classifier.
type ClassifierConfig struct {
	ProviderEntry `yaml:",inline"`

	// Labels is the vocabulary in model output order.
	Labels []string `yaml:"labels"`

	// LabelsFile is a newline-separated vocabulary used when Labels is empty.
	LabelsFile string `yaml:"labels_file"`
}

// ResolveLabels returns Labels, or the vocabulary read from LabelsFile.
// Blank lines and lines starting with '#' are skipped.
func (c ClassifierConfig) ResolveLabels() ([]string, error) {
	if len(c.Labels) > 0 || c.LabelsFile == "" {
		return c.Labels, nil
	}
	data, err := os.ReadFile(c.LabelsFile)
	if err != nil {
		return nil, fmt.Errorf("config: read labels: %w", err)
	}
	var labels []string
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("config: labels file %q is empty", c.LabelsFile)
	}
	return labels, nil
}

// GenerationConfig configures the provider fallback chain.
type GenerationConfig struct {
	// Locale is substituted into the instruction. Default "es-CO".
	Locale string `yaml:"locale"`

	// Instruction overrides the system prompt; "{locale}" is replaced.
	Instruction string `yaml:"instruction"`

	// Budget bounds the whole chain. Default 8s.
	Budget time.Duration `yaml:"budget"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	Verifier       VerifierConfig `yaml:"verifier"`
	CircuitBreaker BreakerConfig  `yaml:"circuit_breaker"`

	// Backends are tried in order. With none, sentences are the raw words.
	Backends []ProviderEntry `yaml:"backends"`
}

// VerifierConfig tunes the faithfulness check on generated sentences.
type VerifierConfig struct {
	Disabled       bool    `yaml:"disabled"`
	MatchThreshold float64 `yaml:"match_threshold"`
	MinCoverage    float64 `yaml:"min_coverage"`
	MaxExpansion   int     `yaml:"max_expansion"`
}

// BreakerConfig configures the per-backend circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TTSConfig selects the speech synthesiser and where its audio goes. With
// no name, sentences are only logged.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	Output OutputConfig `yaml:"output"`
}

// OutputConfig describes the raw PCM sink for synthesized speech.
type OutputConfig struct {
	// Path is a file or FIFO receiving PCM; "-" writes to stdout.
	Path string `yaml:"path"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Realtime paces writes at playback speed.
	Realtime bool `yaml:"realtime"`
}

// SettingsConfig selects the user-settings store.
type SettingsConfig struct {
	// Backend is file (default), postgres or memory.
	Backend SettingsBackend `yaml:"backend"`

	// Path is the YAML file for the file backend. Default "settings.yaml".
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}
