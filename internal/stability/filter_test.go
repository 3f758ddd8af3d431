package stability

import (
	"testing"
	"time"

	"github.com/androsja/Se-alyze/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func cls(label string, conf float64) types.Classification {
	return types.Classification{Label: label, Confidence: conf}
}

func newFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestNew_RejectsInvertedThresholds(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{CommitThreshold: 0.6, DisplayThreshold: 0.8}); err == nil {
		t.Fatal("expected error when display threshold exceeds commit threshold")
	}
	if _, err := New(Config{CommitThreshold: 1.5}); err == nil {
		t.Fatal("expected error for commit threshold above 1")
	}
}

func TestUpdate_Staleness(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	ev := f.Update(cls("hola", 0.9), at(0))
	if !ev.Detected || ev.Word != "hola" {
		t.Fatalf("strong hola: %+v", ev)
	}

	for ms := 100; ms <= 1500; ms += 100 {
		ev = f.Update(cls("hola", 0.2), at(ms))
		if ev.Word != "hola" {
			t.Fatalf("t=%dms word = %q, want sticky hola", ms, ev.Word)
		}
	}
	ev = f.Update(cls("_no_hands", 0), at(1600))
	if ev.Word != "" {
		t.Fatalf("t=1600ms word = %q, want empty after staleness", ev.Word)
	}
	if !ev.Changed {
		t.Error("expected Changed on stale clear")
	}
}

func TestUpdate_Thresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cls          types.Classification
		wantWord     string
		wantDetected bool
	}{
		{"above commit", cls("hola", 0.8), "hola", true},
		{"display only", cls("hola", 0.72), "hola", false},
		{"at commit is not strong", cls("hola", 0.75), "hola", false},
		{"below display", cls("hola", 0.5), "", false},
		{"technical strong", cls("_idle", 0.99), "", false},
		{"empty label", cls("", 0.99), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFilter(t)
			ev := f.Update(tc.cls, at(0))
			if ev.Word != tc.wantWord || ev.Detected != tc.wantDetected {
				t.Errorf("Update = %+v, want word %q detected %v", ev, tc.wantWord, tc.wantDetected)
			}
		})
	}
}

func TestUpdate_DetectsOnlyOnChange(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	if ev := f.Update(cls("hola", 0.9), at(0)); !ev.Detected {
		t.Fatal("first hola should be detected")
	}
	if ev := f.Update(cls("hola", 0.95), at(33)); ev.Detected {
		t.Fatal("held hola must not be detected again")
	}
	if ev := f.Update(cls("gracias", 0.9), at(66)); !ev.Detected || ev.Previous != "hola" {
		t.Fatalf("gracias: %+v", ev)
	}
}

func TestUpdate_DisplayBandThenStrong(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []types.Classification
	}{
		{"fresh label", []types.Classification{cls("hola", 0.72), cls("hola", 0.9)}},
		{"after another word", []types.Classification{cls("hola", 0.9), cls("gracias", 0.72), cls("gracias", 0.95)}},
		{"climbing confidence", []types.Classification{cls("yo", 0.71), cls("yo", 0.73), cls("yo", 0.74), cls("yo", 0.8)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFilter(t)
			var ev Event
			for i, c := range tc.steps {
				ev = f.Update(c, at(i*33))
			}
			last := tc.steps[len(tc.steps)-1].Label
			if !ev.Detected || ev.Word != last {
				t.Fatalf("final update = %+v, want %q detected", ev, last)
			}
			if f.State().Committed != last {
				t.Errorf("Committed = %q, want %q", f.State().Committed, last)
			}
		})
	}
}

func TestUpdate_WeakOtherLabelDoesNotRearm(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	f.Update(cls("hola", 0.9), at(0))
	f.Update(cls("gracias", 0.72), at(33))
	if ev := f.Update(cls("hola", 0.9), at(66)); ev.Detected {
		t.Fatalf("hola is still the last committed word: %+v", ev)
	}
}

func TestUpdate_StaleClearsCommitted(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	f.Update(cls("hola", 0.9), at(0))
	f.Update(cls("_no_hands", 0), at(1600))
	if f.State().Committed != "" {
		t.Fatalf("Committed = %q after staleness", f.State().Committed)
	}
	if ev := f.Update(cls("hola", 0.9), at(1700)); !ev.Detected {
		t.Fatalf("hola after staleness should be detected: %+v", ev)
	}
}

func TestIgnoreGuard(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	f.Update(cls("hola", 0.9), at(0))
	f.Ignore("hola")
	if got := f.State().Word; got != "" {
		t.Fatalf("Ignore should clear display, got %q", got)
	}

	ev := f.Update(cls("hola", 0.95), at(33))
	if !ev.Ignored || ev.Detected || ev.Word != "" {
		t.Fatalf("held ignored word: %+v", ev)
	}

	// Losing the hands clears the guard.
	f.Update(cls("_no_hands", 0), at(66))
	if f.State().Ignored != "" {
		t.Fatal("guard should clear on a different label")
	}
	if ev := f.Update(cls("hola", 0.95), at(99)); !ev.Detected {
		t.Fatalf("hola should be detectable again: %+v", ev)
	}
}

func TestIgnoreGuard_Reset(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	f.Ignore("hola")
	f.ResetIgnore()
	if ev := f.Update(cls("hola", 0.9), at(0)); !ev.Detected {
		t.Fatalf("after ResetIgnore hola should be detected: %+v", ev)
	}
}

func TestSetThresholds(t *testing.T) {
	t.Parallel()

	f := newFilter(t)
	if err := f.SetThresholds(0.5, 0.9); err == nil {
		t.Fatal("expected error for inverted thresholds")
	}
	if err := f.SetThresholds(0.55, 0.5); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if ev := f.Update(cls("hola", 0.6), at(0)); !ev.Detected {
		t.Fatalf("0.6 should be strong after lowering thresholds: %+v", ev)
	}
}
