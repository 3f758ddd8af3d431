// Package window maintains the sliding window of recent landmark frames and
// turns each full window into a classification.
//
// The buffer is single-producer: exactly one goroutine may call [Buffer.Push].
// It keeps the most recent Size frames in arrival order. Until the window is
// full no classification is produced. A full window with too few frames that
// contain a hand yields a synthetic "no hands" classification without invoking
// the classifier, so an idle camera never costs an inference call.
package window

import (
	"context"
	"errors"
	"fmt"

	"github.com/androsja/Se-alyze/pkg/provider/classifier"
	"github.com/androsja/Se-alyze/pkg/types"
)

// Defaults used when a Config field is left zero.
const (
	DefaultSize          = 32
	DefaultMinHandFrames = 5
	DefaultPrefix        = "_"

	// NoHandsSuffix is appended to the technical prefix to form the synthetic
	// label emitted for an idle window.
	NoHandsSuffix = "no_hands"
)

// Config tunes a [Buffer].
type Config struct {
	// Size is the window length in frames. Default: 32.
	Size int

	// MinHandFrames is the minimum number of frames with at least one hand
	// required before the classifier is consulted. Default: 5.
	MinHandFrames int

	// TechnicalPrefix marks non-word labels. Default: "_".
	TechnicalPrefix string
}

// Buffer is the sliding frame window in front of the classifier.
// It is not safe for concurrent use.
type Buffer struct {
	classifier classifier.Provider
	size       int
	minHands   int
	noHands    types.Classification

	ring      []types.Frame
	start     int
	count     int
	handCount int
}

// New creates a Buffer that classifies full windows with c.
func New(c classifier.Provider, cfg Config) (*Buffer, error) {
	if c == nil {
		return nil, errors.New("window: classifier must not be nil")
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.MinHandFrames <= 0 {
		cfg.MinHandFrames = DefaultMinHandFrames
	}
	if cfg.MinHandFrames > cfg.Size {
		return nil, fmt.Errorf("window: min hand frames %d exceeds window size %d", cfg.MinHandFrames, cfg.Size)
	}
	if cfg.TechnicalPrefix == "" {
		cfg.TechnicalPrefix = DefaultPrefix
	}
	return &Buffer{
		classifier: c,
		size:       cfg.Size,
		minHands:   cfg.MinHandFrames,
		noHands:    types.Classification{Label: cfg.TechnicalPrefix + NoHandsSuffix},
		ring:       make([]types.Frame, cfg.Size),
	}, nil
}

// Push appends f, evicting the oldest frame once the window is full.
//
// ok is false while the window is still filling. When the window is full the
// returned classification is either the classifier's verdict or the synthetic
// no-hands label (confidence 0). A classifier failure is reported through err
// together with the no-hands classification and ok == true, so callers can log
// the error and still feed the result downstream.
func (b *Buffer) Push(ctx context.Context, f types.Frame) (cls types.Classification, ok bool, err error) {
	if b.count == b.size {
		if b.ring[b.start].HasHands() {
			b.handCount--
		}
		b.ring[b.start] = f
		b.start = (b.start + 1) % b.size
	} else {
		b.ring[(b.start+b.count)%b.size] = f
		b.count++
	}
	if f.HasHands() {
		b.handCount++
	}

	if b.count < b.size {
		return types.Classification{}, false, nil
	}
	if b.handCount < b.minHands {
		return b.noHands, true, nil
	}

	cls, err = b.classifier.Classify(ctx, b.Frames())
	if err != nil {
		return b.noHands, true, fmt.Errorf("window: classify: %w", err)
	}
	return cls, true, nil
}

// Frames returns a copy of the current window contents, oldest first.
func (b *Buffer) Frames() []types.Frame {
	out := make([]types.Frame, b.count)
	for i := range b.count {
		out[i] = b.ring[(b.start+i)%b.size]
	}
	return out
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int { return b.count }

// HandFrames returns the number of buffered frames containing a hand.
func (b *Buffer) HandFrames() int { return b.handCount }

// NoHands returns the synthetic classification used for idle windows.
func (b *Buffer) NoHands() types.Classification { return b.noHands }

// Reset empties the window.
func (b *Buffer) Reset() {
	clear(b.ring)
	b.start, b.count, b.handCount = 0, 0, 0
}
