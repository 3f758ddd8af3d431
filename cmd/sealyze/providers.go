package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/androsja/Se-alyze/internal/app"
	"github.com/androsja/Se-alyze/internal/config"
	"github.com/androsja/Se-alyze/internal/phrase"
	"github.com/androsja/Se-alyze/pkg/audio"
	"github.com/androsja/Se-alyze/pkg/provider/classifier"
	"github.com/androsja/Se-alyze/pkg/provider/classifier/tfserving"
	"github.com/androsja/Se-alyze/pkg/provider/llm"
	"github.com/androsja/Se-alyze/pkg/provider/llm/anyllm"
	oallm "github.com/androsja/Se-alyze/pkg/provider/llm/openai"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
	"github.com/androsja/Se-alyze/pkg/provider/tts/coqui"
	oatts "github.com/androsja/Se-alyze/pkg/provider/tts/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("tfserving", func(cfg config.ClassifierConfig) (classifier.Provider, error) {
		labels, err := cfg.ResolveLabels()
		if err != nil {
			return nil, err
		}
		var opts []tfserving.Option
		if cfg.Timeout > 0 {
			opts = append(opts, tfserving.WithTimeout(cfg.Timeout))
		}
		if sig := cfg.OptString("signature_name"); sig != "" {
			opts = append(opts, tfserving.WithSignatureName(sig))
		}
		return tfserving.New(cfg.BaseURL, cfg.Model, labels, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm-go backend shares the same pattern: optional APIKey +
	// optional BaseURL. Local servers take no key.
	for _, providerName := range anyllm.Supported {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if !slices.Contains(anyllm.Keyless, providerName) {
				if key := entry.ResolveAPIKey(); key != "" {
					opts = append(opts, anyllmlib.WithAPIKey(key))
				}
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai talks to the API directly so any OpenAI-compatible endpoint
	// works through BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		return oallm.New(entry.ResolveAPIKey(), entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := cfg.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(cfg.Timeout))
		}
		if f, ok := outputFormat(cfg); ok {
			opts = append(opts, coqui.WithOutputFormat(f))
		}
		return coqui.New(cfg.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []oatts.Option
		if cfg.Model != "" {
			opts = append(opts, oatts.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, oatts.WithTimeout(cfg.Timeout))
		}
		if f, ok := outputFormat(cfg); ok {
			opts = append(opts, oatts.WithOutputFormat(f))
		}
		return oatts.New(cfg.ResolveAPIKey(), opts...)
	})

	for _, kind := range []string{"classifier", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// outputFormat returns the configured playback format when it is fully
// specified, so the provider converts to it before playback.
func outputFormat(cfg config.TTSConfig) (audio.Format, bool) {
	o := cfg.Output
	if o.SampleRate <= 0 || o.Channels <= 0 {
		return audio.Format{}, false
	}
	return audio.Format{SampleRate: o.SampleRate, Channels: o.Channels}, true
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	c, err := reg.CreateClassifier(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier %q: %w", cfg.Classifier.Name, err)
	}
	ps.Classifier = c
	slog.Info("provider created", "kind", "classifier", "name", cfg.Classifier.Name)

	seen := make(map[string]int, len(cfg.Generation.Backends))
	for i, entry := range cfg.Generation.Backends {
		if !slices.Contains(anyllm.Keyless, entry.Name) && entry.ResolveAPIKey() == "" {
			slog.Warn("generation backend has no credential, skipping", "name", entry.Name, "index", i)
			continue
		}
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown generation backend, skipping", "name", entry.Name, "index", i)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create generation backend %q (index %d): %w", entry.Name, i, err)
		}
		name := entry.Name
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s-%d", name, n+1)
		}
		seen[entry.Name]++
		ps.Generation = append(ps.Generation, phrase.Backend{Name: name, Provider: p, Timeout: entry.Timeout})
		slog.Info("provider created", "kind", "llm", "name", name, "model", entry.Model)
	}

	if name := cfg.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown tts provider, sentences will only be logged", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	return ps, nil
}
