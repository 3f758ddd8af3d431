package landmark

import (
	"sync"
	"testing"
	"time"

	"github.com/androsja/Se-alyze/pkg/types"
)

func frameAt(ms int64) types.Frame {
	return types.Frame{Timestamp: time.UnixMilli(ms)}
}

func TestQueue_DropsOldest(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for i := range int64(5) {
		if !q.Publish(frameAt(i)) {
			t.Fatalf("Publish(%d) rejected", i)
		}
	}
	if q.Dropped() != 2 || q.Published() != 5 {
		t.Fatalf("dropped=%d published=%d", q.Dropped(), q.Published())
	}
	for _, want := range []int64{2, 3, 4} {
		got := <-q.Frames()
		if got.Timestamp.UnixMilli() != want {
			t.Errorf("frame = %d, want %d", got.Timestamp.UnixMilli(), want)
		}
	}
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	if q.Cap() != DefaultQueueSize {
		t.Errorf("Cap = %d", q.Cap())
	}
	q.Publish(frameAt(1))
	q.Close()
	q.Close()
	if q.Publish(frameAt(2)) {
		t.Error("Publish after Close succeeded")
	}
	if _, ok := <-q.Frames(); !ok {
		t.Error("buffered frame lost on Close")
	}
	if _, ok := <-q.Frames(); ok {
		t.Error("channel not closed")
	}
}

func TestQueue_ConcurrentPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				q.Publish(frameAt(int64(p*1000 + i)))
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishers blocked on a full queue")
	}
	if got := q.Published() - q.Dropped(); got != int64(q.Len()) {
		t.Errorf("published-dropped = %d, buffered = %d", got, q.Len())
	}
}

func TestQueue_OfferReportsDrops(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if dropped, ok := q.Offer(frameAt(1)); !ok || dropped != 0 {
		t.Fatalf("first Offer = %d, %v", dropped, ok)
	}
	if dropped, ok := q.Offer(frameAt(2)); !ok || dropped != 1 {
		t.Fatalf("second Offer = %d, %v", dropped, ok)
	}
	q.Close()
	if _, ok := q.Offer(frameAt(3)); ok {
		t.Error("Offer accepted after Close")
	}
}
