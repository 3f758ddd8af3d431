// Package tfserving provides a classifier.Provider backed by the TensorFlow
// Serving REST API.
//
// Each window is flattened into the model's input layout (one row of 126
// coordinates per frame) and posted to
//
//	POST {baseURL}/v1/models/{model}:predict
//
// with a body of {"instances": [window]}. The response's first prediction row
// is a probability vector over the configured label vocabulary; the argmax
// becomes the returned label.
//
// Typical usage:
//
//	p, err := tfserving.New("http://localhost:8501", "signs",
//	    []string{"hola", "gracias", "_no_hands"},
//	    tfserving.WithTimeout(500*time.Millisecond),
//	)
package tfserving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/androsja/Se-alyze/pkg/provider/classifier"
	"github.com/androsja/Se-alyze/pkg/types"
)

var _ classifier.Provider = (*Provider)(nil)

const (
	defaultTimeout = 2 * time.Second

	// maxErrorBody caps how much of a failed response body is quoted in errors.
	maxErrorBody = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 2 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for predictions.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithSignatureName selects a non-default serving signature.
func WithSignatureName(name string) Option {
	return func(p *Provider) {
		p.signature = name
	}
}

// Provider implements classifier.Provider against a TensorFlow Serving model.
// It is safe for concurrent use.
type Provider struct {
	endpoint   string
	labels     []string
	signature  string
	httpClient *http.Client
}

// New creates a Provider for the named model served at baseURL. labels maps
// output indices to vocabulary words and must match the model's output width.
func New(baseURL, model string, labels []string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("tfserving: baseURL must not be empty")
	}
	if model == "" {
		return nil, errors.New("tfserving: model must not be empty")
	}
	if len(labels) == 0 {
		return nil, errors.New("tfserving: labels must not be empty")
	}
	p := &Provider{
		endpoint:   strings.TrimRight(baseURL, "/") + "/v1/models/" + model + ":predict",
		labels:     append([]string(nil), labels...),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// predictRequest is the JSON body of a :predict call (row format).
type predictRequest struct {
	SignatureName string        `json:"signature_name,omitempty"`
	Instances     [][][]float32 `json:"instances"`
}

// predictResponse is the JSON body returned by a :predict call.
type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, window []types.Frame) (types.Classification, error) {
	if len(window) == 0 {
		return types.Classification{}, errors.New("tfserving: empty window")
	}

	rows := make([][]float32, len(window))
	for i, f := range window {
		rows[i] = f.Features()
	}
	body, err := json.Marshal(predictRequest{
		SignatureName: p.signature,
		Instances:     [][][]float32{rows},
	})
	if err != nil {
		return types.Classification{}, fmt.Errorf("tfserving: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.Classification{}, fmt.Errorf("tfserving: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("tfserving: predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return types.Classification{}, fmt.Errorf("tfserving: predict returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Classification{}, fmt.Errorf("tfserving: decode response: %w", err)
	}
	if out.Error != "" {
		return types.Classification{}, fmt.Errorf("tfserving: model error: %s", out.Error)
	}
	if len(out.Predictions) == 0 {
		return types.Classification{}, errors.New("tfserving: empty predictions")
	}
	return p.argmax(out.Predictions[0])
}

// argmax picks the highest-scoring label from a probability row.
func (p *Provider) argmax(scores []float64) (types.Classification, error) {
	if len(scores) != len(p.labels) {
		return types.Classification{}, fmt.Errorf("tfserving: prediction width %d does not match %d labels",
			len(scores), len(p.labels))
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	conf := scores[best]
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return types.Classification{Label: p.labels[best], Confidence: conf}, nil
}
