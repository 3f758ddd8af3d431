package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrEmptyGroup is returned when a [Group] has no entries.
var ErrEmptyGroup = errors.New("no providers configured")

// GroupConfig configures the breaker created for every entry of a [Group].
type GroupConfig struct {
	Breaker BreakerConfig
}

// Entry is one named member of a [Group].
type Entry[T any] struct {
	Name    string
	Value   T
	Breaker *Breaker
}

// Attempt describes the outcome of one entry during [Do].
type Attempt struct {
	Name string
	Err  error
}

// Group is an ordered list of interchangeable backends, each guarded by its
// own [Breaker]. Entries are tried in registration order.
//
// Entries must be added before the group is used concurrently.
type Group[T any] struct {
	entries []Entry[T]
	cfg     GroupConfig
}

// NewGroup returns an empty [Group].
func NewGroup[T any](cfg GroupConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a backend to the end of the failover order.
func (g *Group[T]) Add(name string, v T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.entries = append(g.entries, Entry[T]{Name: name, Value: v, Breaker: NewBreaker(bc)})
}

// Len returns the number of entries.
func (g *Group[T]) Len() int { return len(g.entries) }

// Entries returns the entries in failover order.
func (g *Group[T]) Entries() []Entry[T] {
	return append([]Entry[T](nil), g.entries...)
}

// Do calls fn for each entry in order until one succeeds and returns that
// result with the winning entry's name. Entries with an open breaker are
// skipped. Do stops as soon as ctx is done and returns ctx.Err(). When every
// entry fails the error wraps [ErrAllFailed] and joins the per-entry errors.
//
// onAttempt, if non-nil, is called after every entry that was tried or
// skipped, in order.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error), onAttempt func(Attempt)) (R, string, error) {
	var zero R
	if len(g.entries) == 0 {
		return zero, "", ErrEmptyGroup
	}

	var errs []error
	for i := range g.entries {
		entry := &g.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var result R
		err := entry.Breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, entry.Value)
			return innerErr
		})
		if onAttempt != nil {
			onAttempt(Attempt{Name: entry.Name, Err: err})
		}
		if err == nil {
			return result, entry.Name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.Name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.Name, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
