package pipeline

import (
	"testing"
)

func TestHub_NewestWins(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(Snapshot{Word: "a"})
	h.Publish(Snapshot{Word: "b"})
	h.Publish(Snapshot{Word: "c"})

	got := <-ch
	if got.Word != "c" || got.Seq != 3 {
		t.Errorf("got %+v, want newest snapshot c/3", got)
	}
	select {
	case s := <-ch:
		t.Errorf("unexpected extra snapshot %+v", s)
	default:
	}
}

func TestHub_SubscribeReceivesLatest(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Publish(Snapshot{Sentence: "Hola."})
	ch, cancel := h.Subscribe()
	defer cancel()
	if s := <-ch; s.Sentence != "Hola." {
		t.Errorf("initial snapshot = %+v", s)
	}
	if h.Subscribers() != 1 {
		t.Errorf("Subscribers = %d", h.Subscribers())
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch1, cancel1 := h.Subscribe()
	ch2, _ := h.Subscribe()

	cancel1()
	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("ch1 not closed after unsubscribe")
	}

	h.Close()
	if _, ok := <-ch2; ok {
		t.Error("ch2 not closed after Close")
	}
	h.Publish(Snapshot{Word: "x"})
	if h.Latest().Word == "x" {
		t.Error("Publish after Close stored a snapshot")
	}
	ch3, cancel3 := h.Subscribe()
	cancel3()
	if _, ok := <-ch3; ok {
		t.Error("Subscribe after Close returned an open channel")
	}
}
