package landmark

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/androsja/Se-alyze/pkg/types"
)

// WireFrame is the JSON shape trackers send, one object per frame.
//
//	{"timestamp_ms":1700000000000,"hands":[{"handedness":"Left","landmarks":[{"x":0.1,"y":0.2,"z":0}]}]}
type WireFrame struct {
	TimestampMS int64        `json:"timestamp_ms"`
	Hands       []types.Hand `json:"hands"`
}

// Frame validates w and converts it. A zero timestamp is replaced by now.
func (w WireFrame) Frame(now time.Time) (types.Frame, error) {
	if len(w.Hands) > types.MaxHands {
		return types.Frame{}, fmt.Errorf("landmark: %d hands, at most %d allowed", len(w.Hands), types.MaxHands)
	}
	for i, h := range w.Hands {
		if len(h.Landmarks) != types.LandmarksPerHand {
			return types.Frame{}, fmt.Errorf("landmark: hand %d has %d landmarks, want %d", i, len(h.Landmarks), types.LandmarksPerHand)
		}
	}
	ts := now
	if w.TimestampMS > 0 {
		ts = time.UnixMilli(w.TimestampMS)
	}
	return types.Frame{Timestamp: ts, Hands: w.Hands}, nil
}

// NewWireFrame converts f to its wire shape.
func NewWireFrame(f types.Frame) WireFrame {
	return WireFrame{TimestampMS: f.Timestamp.UnixMilli(), Hands: f.Hands}
}

// Decode parses one JSON frame.
func Decode(data []byte, now time.Time) (types.Frame, error) {
	var w WireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Frame{}, fmt.Errorf("landmark: decode frame: %w", err)
	}
	return w.Frame(now)
}
