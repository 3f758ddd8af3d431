// Package tts defines the Provider interface for text-to-speech backends.
//
// SynthesizeStream accepts a channel of text fragments and returns a channel
// of raw signed 16-bit PCM chunks as they become available, so playback can
// start before the whole sentence is synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/androsja/Se-alyze/pkg/audio"
)

// Voice selects a speaker on the backend.
type Voice struct {
	// ID is the provider-specific voice or speaker identifier. Empty selects
	// the backend default.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is a BCP-47 tag such as "es" or "es-CO". Empty selects the
	// provider default.
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and emits
	// PCM chunks in [Provider.Format]. The returned channel is closed when all
	// text has been synthesised, on a synthesis error, or when ctx is
	// cancelled; callers must drain it.
	//
	// A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// Format is the PCM format of emitted chunks.
	Format() audio.Format

	// ListVoices returns the voices the backend offers. It doubles as a
	// reachability probe.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Text returns a closed channel carrying s, the common single-utterance input
// for SynthesizeStream.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
