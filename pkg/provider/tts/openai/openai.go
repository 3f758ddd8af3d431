// Package openai provides a tts.Provider backed by the OpenAI speech
// endpoint (POST /v1/audio/speech) or any compatible server.
//
// Audio is requested as raw PCM, which the API returns as 24 kHz mono signed
// 16-bit little-endian samples, and streamed to the caller as it arrives.
package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/androsja/Se-alyze/pkg/audio"
	"github.com/androsja/Se-alyze/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
	readSize     = 4096
)

// nativeFormat is the layout of response_format=pcm.
var nativeFormat = audio.Format{SampleRate: 24000, Channels: 1}

// voices offered by the speech endpoint.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

type config struct {
	model      string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	format     audio.Format
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model. Default "gpt-4o-mini-tts".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. It takes precedence over
// [WithTimeout].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithOutputFormat converts audio to f. Default 24 kHz mono.
func WithOutputFormat(f audio.Format) Option {
	return func(c *config) { c.format = f }
}

// Provider implements tts.Provider.
type Provider struct {
	client oai.Client
	model  string
	format audio.Format
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, format: nativeFormat}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model, format: cfg.format}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return p.format }

// ListVoices implements tts.Provider. The endpoint has no catalogue call, so
// the fixed voice list is returned.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(voices))
	for i, v := range voices {
		out[i] = tts.Voice{ID: v, Name: v}
	}
	return out, nil
}

// SynthesizeStream implements tts.Provider. The full text is collected
// before the request is made; the response body is streamed.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)

		var sb strings.Builder
	collect:
		for {
			select {
			case <-ctx.Done():
				return
			case frag, ok := <-text:
				if !ok {
					break collect
				}
				sb.WriteString(frag)
			}
		}
		input := strings.TrimSpace(sb.String())
		if input == "" {
			return
		}

		id := voice.ID
		if id == "" {
			id = defaultVoice
		}
		resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
			Model:          oai.SpeechModel(p.model),
			Input:          input,
			Voice:          oai.AudioSpeechNewParamsVoice(id),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("openai speech request failed", "err", err)
			}
			return
		}
		defer resp.Body.Close()

		buf := make([]byte, readSize)
		var carry []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				// Keep whole samples so conversion never splits one.
				data := append(carry, buf[:n]...)
				whole := len(data) &^ 1
				chunk := audio.Convert(append([]byte(nil), data[:whole]...), nativeFormat, p.format)
				carry = append([]byte(nil), data[whole:]...)
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					slog.Warn("openai speech stream ended early", "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}
