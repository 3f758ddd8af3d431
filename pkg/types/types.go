// Package types defines the value types shared across Se-alyze packages.
//
// These types are the common currency between the landmark source, the
// classifier providers, the pipeline stages and the text-generation providers.
// Each stage defines its own domain types; only data that crosses package
// boundaries lives here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Hand landmark topology produced by the external tracker.
const (
	// LandmarksPerHand is the number of keypoints tracked on a single hand.
	LandmarksPerHand = 21

	// MaxHands is the maximum number of hands carried by one Frame.
	MaxHands = 2

	// FeaturesPerHand is the flattened coordinate count for one hand (x, y, z).
	FeaturesPerHand = LandmarksPerHand * 3

	// FeaturesPerFrame is the flattened coordinate count for one frame.
	FeaturesPerFrame = FeaturesPerHand * MaxHands
)

// Handedness labels reported by the tracker.
const (
	HandLeft  = "Left"
	HandRight = "Right"
)

// Landmark is a single tracked keypoint in normalised image coordinates.
type Landmark struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
	Visibility float32 `json:"visibility,omitempty"`
}

// Hand is one detected hand with its ordered keypoints.
type Hand struct {
	// Handedness is [HandLeft] or [HandRight]. Unknown values are treated as
	// the next free slot when flattening features.
	Handedness string `json:"handedness"`

	// Landmarks holds up to [LandmarksPerHand] keypoints in tracker order.
	Landmarks []Landmark `json:"landmarks"`
}

// Frame is one time-stamped observation of zero, one, or two hands.
// A Frame is immutable once created; stages share it by value.
type Frame struct {
	// Timestamp is the capture time reported by the tracker.
	Timestamp time.Time

	// Hands lists the detected hands. Empty when no hand is visible.
	Hands []Hand
}

// HasHands reports whether at least one hand was detected in the frame.
func (f Frame) HasHands() bool {
	return len(f.Hands) > 0
}

// Features flattens the frame into the classifier's input layout: the left
// hand's 63 coordinates followed by the right hand's, with zeros for a hand
// that was not detected.
func (f Frame) Features() []float32 {
	out := make([]float32, FeaturesPerFrame)
	var used [MaxHands]bool
	for _, h := range f.Hands {
		slot := -1
		switch h.Handedness {
		case HandLeft:
			slot = 0
		case HandRight:
			slot = 1
		}
		if slot < 0 || used[slot] {
			slot = -1
			for i := range used {
				if !used[i] {
					slot = i
					break
				}
			}
		}
		if slot < 0 {
			break
		}
		used[slot] = true
		base := slot * FeaturesPerHand
		for i, lm := range h.Landmarks {
			if i >= LandmarksPerHand {
				break
			}
			out[base+i*3] = lm.X
			out[base+i*3+1] = lm.Y
			out[base+i*3+2] = lm.Z
		}
	}
	return out
}

// Classification is the classifier's verdict over one full window.
type Classification struct {
	// Label is a vocabulary word or a technical label.
	Label string

	// Confidence is the score in [0, 1] assigned to Label.
	Confidence float64
}

// IsTechnical reports whether the label is an internal non-word marker
// (for example "_no_hands"), identified by prefix.
func (c Classification) IsTechnical(prefix string) bool {
	return IsTechnicalLabel(c.Label, prefix)
}

// IsTechnicalLabel reports whether label starts with the technical prefix.
// An empty prefix disables the check.
func IsTechnicalLabel(label, prefix string) bool {
	return prefix != "" && strings.HasPrefix(label, prefix)
}

// Message is a single chat message sent to a text-generation provider.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
