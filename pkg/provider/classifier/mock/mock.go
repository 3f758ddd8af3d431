// Package mock provides a test double for the classifier.Provider interface.
//
// Results are served in order from Results; once exhausted the last entry is
// repeated. Set Err to inject a failure on every call.
package mock

import (
	"context"
	"sync"

	"github.com/androsja/Se-alyze/pkg/provider/classifier"
	"github.com/androsja/Se-alyze/pkg/types"
)

var _ classifier.Provider = (*Provider)(nil)

// Provider is a scripted classifier.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is the sequence of classifications returned by Classify.
	Results []types.Classification

	// Err, if non-nil, is returned by every Classify call.
	Err error

	// Windows records a copy of every window passed to Classify.
	Windows [][]types.Frame

	next int
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, window []types.Frame) (types.Classification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Windows = append(p.Windows, append([]types.Frame(nil), window...))
	if err := ctx.Err(); err != nil {
		return types.Classification{}, err
	}
	if p.Err != nil {
		return types.Classification{}, p.Err
	}
	if len(p.Results) == 0 {
		return types.Classification{}, nil
	}
	i := min(p.next, len(p.Results)-1)
	p.next++
	return p.Results[i], nil
}

// Calls returns the number of Classify invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Windows)
}
