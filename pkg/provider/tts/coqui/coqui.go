// Package coqui provides a tts.Provider backed by a Coqui TTS server
// (ghcr.io/coqui-ai/tts or tts-cpu) through its REST API.
//
// Synthesis uses GET /api/tts with query parameters and returns one WAV per
// request, so SynthesizeStream splits incoming text into sentences and
// synthesises them in order, emitting PCM as each sentence completes.
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("es"),
//	    coqui.WithOutputFormat(audio.Format{SampleRate: 22050, Channels: 1}),
//	)
package coqui

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/androsja/Se-alyze/pkg/audio"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "es"
	defaultTimeout  = 20 * time.Second
	ttsEndpoint     = "/api/tts"
	detailsEndpoint = "/details"

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// defaultFormat is what Coqui's VITS/Tacotron models produce.
var defaultFormat = audio.Format{SampleRate: 22050, Channels: 1}

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets language_id for multilingual models. Default "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Default 20s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

// WithOutputFormat converts synthesised audio to f. Default 22050 Hz mono.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) { p.format = f }
}

// Provider implements tts.Provider against a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	format     audio.Format
}

// New returns a Provider targeting serverURL, e.g. "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
		format:     defaultFormat,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return p.format }

// SynthesizeStream implements tts.Provider. Sentences are synthesised one at
// a time in arrival order; a failed request ends the stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		var buf strings.Builder
		speak := func(sentence string) bool {
			pcm, err := p.synthesize(ctx, sentence, voice)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui synthesis failed", "err", err)
				}
				return false
			}
			for len(pcm) > 0 {
				n := min(pcmChunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return false
				}
				pcm = pcm[n:]
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case frag, ok := <-text:
				if !ok {
					if rest := strings.TrimSpace(buf.String()); rest != "" {
						speak(rest)
					}
					return
				}
				buf.WriteString(frag)
				for {
					s := buf.String()
					idx := sentenceEnd(s)
					if idx < 0 {
						break
					}
					buf.Reset()
					buf.WriteString(s[idx+1:])
					if sentence := strings.TrimSpace(s[:idx+1]); sentence != "" && !speak(sentence) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice) ([]byte, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	lang := p.language
	if voice.Language != "" {
		lang = voice.Language
	}
	if lang != "" {
		params.Set("language_id", lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+ttsEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	f, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return audio.Convert(pcm, f, p.format), nil
}

// detailsResponse is the body of GET /details. Speakers is empty for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ListVoices implements tts.Provider using GET /details. Single-speaker
// models yield one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create details request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var d detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("coqui: decode details: %w", err)
	}

	if len(d.Speakers) == 0 {
		name := cmp.Or(d.ModelName, "default")
		return []tts.Voice{{Name: name, Language: d.Language}}, nil
	}
	speakers := slices.Clone(d.Speakers)
	slices.Sort(speakers)
	voices := make([]tts.Voice, 0, len(speakers))
	for _, s := range speakers {
		voices = append(voices, tts.Voice{ID: s, Name: s, Language: d.Language})
	}
	return voices, nil
}


// sentenceEnd returns the index of the first '.', '!' or '?' that ends s or
// is followed by whitespace, so "3.14" and "Sr.García" do not split.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
