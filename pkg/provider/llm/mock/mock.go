// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Response: "Hola, gracias."}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/androsja/Se-alyze/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call records a single invocation of Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock llm.Provider. Zero values make Complete return an empty
// reply and no error.
type Provider struct {
	mu sync.Mutex

	// Response is the reply content returned by Complete.
	Response string

	// Err, if non-nil, is returned by Complete.
	Err error

	// Delay makes Complete wait before answering. The wait is abandoned with
	// ctx.Err() when ctx is cancelled first.
	Delay time.Duration

	// CompleteFunc, if set, overrides Response, Err and Delay.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	calls []Call
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn, resp, err, delay := p.CompleteFunc, p.Response, p.Err, p.Delay
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: resp}, nil
}

// Calls returns a copy of every recorded Complete call.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
