// Package phrase turns a committed word sequence into a natural sentence.
//
// A [Chain] asks an ordered list of text-generation backends, each behind its
// own timeout and circuit breaker, and returns the first clean reply that the
// [Verifier] accepts. When every backend fails, times out or drifts, the chain
// falls back to the words joined with single spaces, so Generate always
// returns something speakable for a non-empty input.
package phrase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/internal/resilience"
	"github.com/androsja/Se-alyze/pkg/provider/llm"
)

const (
	defaultBackendTimeout = 4 * time.Second
	defaultBudget         = 8 * time.Second
	defaultTemperature    = 0.1
	defaultMaxTokens      = 96

	// SourceRaw labels sentences produced by the join fallback.
	SourceRaw = "raw"
)

var (
	// ErrEmptyResponse is returned by a backend attempt whose reply is blank
	// after cleaning.
	ErrEmptyResponse = errors.New("phrase: empty response")

	// ErrUnfaithful is returned by a backend attempt whose reply was rejected
	// by the verifier.
	ErrUnfaithful = errors.New("phrase: response does not match the signed words")
)

// Backend is one text-generation provider in the chain.
type Backend struct {
	// Name identifies the backend in logs and metrics ("groq", "gemini", ...).
	Name string

	// Provider performs the completion.
	Provider llm.Provider

	// Timeout bounds a single attempt. Zero means 4s.
	Timeout time.Duration
}

// Config configures a [Chain].
type Config struct {
	Prompt Prompt

	// Budget bounds the whole chain including every fallback. Zero means 8s.
	Budget time.Duration

	// Temperature for every request. Zero means 0.1.
	Temperature float64

	// MaxTokens for every request. Zero means 96.
	MaxTokens int

	// Verifier checks replies. A nil Verifier accepts any non-empty reply.
	Verifier *Verifier

	// Breaker is applied to every backend; its Name is overwritten.
	Breaker resilience.BreakerConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Result describes one generation.
type Result struct {
	Text string

	// Source is the winning backend name, or [SourceRaw].
	Source string

	// Attempts lists every backend that was tried or skipped, in order.
	Attempts []resilience.Attempt
}

// Chain is the ordered provider fallback chain. It is safe for concurrent
// use; backends are fixed at construction.
type Chain struct {
	cfg     Config
	group   *resilience.Group[Backend]
	metrics *observe.Metrics
}

// New builds a chain over backends in order. Backends with a nil Provider are
// rejected. An empty list is allowed: such a chain always falls back to the
// raw join.
func New(cfg Config, backends ...Backend) (*Chain, error) {
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	g := resilience.NewGroup[Backend](resilience.GroupConfig{Breaker: cfg.Breaker})
	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		if b.Provider == nil {
			return nil, fmt.Errorf("phrase: backend %d (%q) has no provider", i, b.Name)
		}
		if b.Name == "" {
			b.Name = fmt.Sprintf("backend-%d", i)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("phrase: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
		if b.Timeout <= 0 {
			b.Timeout = defaultBackendTimeout
		}
		g.Add(b.Name, b)
	}
	return &Chain{cfg: cfg, group: g, metrics: m}, nil
}

// Backends returns the backend names in failover order.
func (c *Chain) Backends() []string {
	entries := c.group.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Generate returns the sentence for words. It never returns "" for a
// non-empty input. When ctx is cancelled it returns the raw join promptly.
func (c *Chain) Generate(ctx context.Context, words []string) string {
	return c.Run(ctx, words).Text
}

// Run is Generate with the full outcome.
func (c *Chain) Run(ctx context.Context, words []string) Result {
	raw := strings.Join(words, " ")
	if len(words) == 0 {
		return Result{Source: SourceRaw}
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "phrase.generate",
		trace.WithAttributes(attribute.Int(string(observe.KeyWords), len(words))))
	defer span.End()

	res := Result{Text: raw, Source: SourceRaw}
	if c.group.Len() > 0 {
		budgetCtx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
		text, name, err := resilience.Do(budgetCtx, c.group,
			func(ctx context.Context, b Backend) (string, error) {
				return c.attempt(ctx, b, words)
			},
			func(a resilience.Attempt) { res.Attempts = append(res.Attempts, a) },
		)
		cancel()

		switch {
		case err == nil:
			res.Text, res.Source = text, name
		case ctx.Err() != nil:
			span.SetStatus(codes.Error, "cancelled")
		default:
			span.RecordError(err)
			observe.Logger(ctx).Warn("sentence generation fell back to raw words",
				"words", len(words), "err", err)
		}
	}

	span.SetAttributes(attribute.String(string(observe.KeyProvider), res.Source))
	if ctx.Err() == nil {
		c.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("source", res.Source)))
	}
	return res
}

// attempt performs one backend call within its own timeout.
func (c *Chain) attempt(ctx context.Context, b Backend, words []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := b.Provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.cfg.Prompt.System(),
		Messages:     c.cfg.Prompt.Messages(words),
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
	})
	c.metrics.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", b.Name)))

	status := "ok"
	defer func() { c.metrics.RecordProviderRequest(ctx, b.Name, "llm", status) }()

	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, b.Name, "llm")
		return "", err
	}
	text := cleanText(resp.Content)
	if text == "" {
		status = "empty"
		return "", ErrEmptyResponse
	}
	if c.cfg.Verifier != nil && !c.cfg.Verifier.Faithful(words, text) {
		status = "rejected"
		slog.Debug("generated sentence rejected", "provider", b.Name, "text", text)
		return "", fmt.Errorf("%w: %q", ErrUnfaithful, text)
	}
	return text, nil
}
