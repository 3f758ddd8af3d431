package pipeline

import (
	"sync"
	"time"
)

// Snapshot is the observable pipeline state pushed to UI clients.
type Snapshot struct {
	// Word is the displayed (stable) word, or "".
	Word string `json:"word"`

	// Confidence is the confidence of the latest classification.
	Confidence float64 `json:"confidence"`

	// Words is the pending word buffer.
	Words []string `json:"words"`

	// Sentence is the last generated sentence, shown until it goes quiet.
	Sentence string `json:"sentence"`

	Phase     string  `json:"phase"`
	Progress  float64 `json:"progress"`
	Anchor    string  `json:"anchor,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	DelayMS   int64   `json:"delay_ms"`

	// Seq increases with every published snapshot.
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hub fans snapshots out to subscribers. Each subscriber holds at most one
// pending snapshot: a slow reader only ever sees the newest state.
type Hub struct {
	mu     sync.Mutex
	latest Snapshot
	subs   map[chan Snapshot]struct{}
	seq    uint64
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Snapshot]struct{})}
}

// Publish stores s as the latest snapshot and offers it to every subscriber,
// replacing any snapshot they have not read yet.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	s.Seq = h.seq
	h.latest = s
	for ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe registers a subscriber. The channel immediately holds the latest
// snapshot. Call the returned function to unsubscribe; it closes the channel.
func (h *Hub) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	if h.seq > 0 {
		ch <- h.latest
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
