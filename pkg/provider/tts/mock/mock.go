// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("pcm1"), []byte("pcm2")}}
//	ch, _ := p.SynthesizeStream(ctx, tts.Text("hola"), tts.Voice{})
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/androsja/Se-alyze/pkg/audio"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Call records one SynthesizeStream invocation. Text is the concatenation of
// every fragment received before the text channel closed.
type Call struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted in order for every synthesis.
	Chunks [][]byte

	// ChunkDelay is waited before each chunk; cancellation aborts the stream.
	ChunkDelay time.Duration

	// Err, if non-nil, is returned by SynthesizeStream.
	Err error

	// Voices and VoicesErr are returned by ListVoices.
	Voices    []tts.Voice
	VoicesErr error

	// AudioFormat is returned by Format. Zero means 16 kHz mono.
	AudioFormat audio.Format

	calls []Call
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	err, chunks, delay := p.Err, p.Chunks, p.ChunkDelay
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for frag := range text {
		sb.WriteString(frag)
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: sb.String(), Voice: voice})
	p.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	if p.AudioFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.AudioFormat
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.VoicesErr
}

// Calls returns a copy of every recorded synthesis.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
