// Package classifier defines the Provider interface for sequence classifiers.
//
// A classifier maps a full window of consecutive landmark frames to a single
// vocabulary label with a confidence score. The model itself is an external
// collaborator (for example a TensorFlow Serving deployment of the trained
// LSTM); implementations only adapt its transport.
//
// Implementations must be safe for concurrent use, although the pipeline calls
// Classify from a single goroutine.
package classifier

import (
	"context"

	"github.com/androsja/Se-alyze/pkg/types"
)

// Provider classifies a window of frames.
type Provider interface {
	// Classify returns the most likely label for the ordered window, oldest
	// frame first. The window slice must not be retained after return.
	//
	// Implementations must return promptly when ctx is cancelled.
	Classify(ctx context.Context, window []types.Frame) (types.Classification, error)
}
