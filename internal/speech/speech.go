// Package speech speaks finished sentences.
//
// A [Sink] receives each sentence exactly once from the debounce scheduler.
// Speak returns immediately; a new sentence cuts off the one still playing.
package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/pkg/audio/player"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
)

// Sink is the speech output.
type Sink interface {
	// Speak starts speaking text, flushing any utterance in progress.
	// It must not block for the duration of the utterance.
	Speak(text string)

	// Shutdown stops speech and releases resources.
	Shutdown() error
}

// LogSink logs sentences instead of speaking them. It is used when no TTS
// backend is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Speak implements [Sink].
func (s LogSink) Speak(text string) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("sentence", "text", text)
}

// Shutdown implements [Sink].
func (LogSink) Shutdown() error { return nil }

// TTSSink synthesises sentences and plays them through a [player.Player].
type TTSSink struct {
	provider tts.Provider
	voice    tts.Voice
	player   *player.Player
	metrics  *observe.Metrics
	name     string

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// TTSOption configures a [TTSSink].
type TTSOption func(*TTSSink)

// WithVoice selects the voice passed to the provider.
func WithVoice(v tts.Voice) TTSOption {
	return func(s *TTSSink) { s.voice = v }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) TTSOption {
	return func(s *TTSSink) { s.metrics = m }
}

// WithName sets the provider name used in metrics. Default "tts".
func WithName(name string) TTSOption {
	return func(s *TTSSink) { s.name = name }
}

// NewTTSSink returns a sink that speaks through p into pl. The player's
// format should match p.Format(); mismatches are logged once at startup.
func NewTTSSink(p tts.Provider, pl *player.Player, opts ...TTSOption) *TTSSink {
	s := &TTSSink{provider: p, player: pl, metrics: observe.DefaultMetrics(), name: "tts"}
	for _, o := range opts {
		o(s)
	}
	if pf, sf := pl.Format(), p.Format(); pf != sf {
		slog.Warn("tts format differs from player format", "tts", sf.String(), "player", pf.String())
	}
	return s
}

// Speak implements [Sink].
func (s *TTSSink) Speak(text string) {
	s.mu.Lock()
	if s.closed || text == "" {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.player.Interrupt()
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.speak(ctx, text)
	}()
}

func (s *TTSSink) speak(ctx context.Context, text string) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("provider", s.name))

	audioCh, err := s.provider.SynthesizeStream(ctx, tts.Text(text), s.voice)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.name, "tts", "error")
		s.metrics.RecordProviderError(ctx, s.name, "tts")
		slog.Warn("speech synthesis failed", "err", err, "text", text)
		return
	}

	// Forward chunks so the time to first audio can be measured.
	fwd := make(chan []byte)
	done, err := s.player.Play(ctx, fwd)
	if err != nil {
		for range audioCh {
		}
		return
	}

	first := true
	status := "ok"
	for chunk := range audioCh {
		if first {
			s.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			first = false
		}
		select {
		case fwd <- chunk:
		case <-done:
		}
	}
	close(fwd)
	if first && ctx.Err() == nil {
		status = "empty"
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "tts", status)
	<-done
}

// Shutdown implements [Sink]. It cancels synthesis, waits for it to stop and
// closes the player.
func (s *TTSSink) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.player.Close()
}
