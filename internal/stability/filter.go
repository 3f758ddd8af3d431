// Package stability turns the flickering per-window classifier output into a
// sticky display word and discrete "word detected" events.
//
// Two thresholds are applied. The display threshold is low so the shown word
// reacts quickly; the commit threshold is higher so only confident labels are
// committed to the sentence. A displayed word is held across weak frames until
// no strong detection has been seen for the staleness timeout.
//
// A Filter is owned by the pipeline goroutine and is not safe for concurrent
// use. Observers read its state through pipeline snapshots.
package stability

import (
	"errors"
	"fmt"
	"time"

	"github.com/androsja/Se-alyze/pkg/types"
)

// Defaults used when a Config field is left zero.
const (
	DefaultCommitThreshold  = 0.75
	DefaultDisplayThreshold = 0.70
	DefaultStaleAfter       = 1500 * time.Millisecond
	DefaultPrefix           = "_"
)

// Config tunes a [Filter].
type Config struct {
	// CommitThreshold is the confidence a label must exceed to count as a
	// strong detection and to be committed as a word. Default: 0.75.
	CommitThreshold float64

	// DisplayThreshold is the confidence a label must exceed to be displayed.
	// Must not exceed CommitThreshold. Default: 0.70.
	DisplayThreshold float64

	// StaleAfter clears the displayed word once this long has passed since the
	// last strong detection. Default: 1.5s.
	StaleAfter time.Duration

	// TechnicalPrefix marks non-word labels. Default: "_".
	TechnicalPrefix string
}

func (c *Config) applyDefaults() {
	if c.CommitThreshold == 0 {
		c.CommitThreshold = DefaultCommitThreshold
	}
	if c.DisplayThreshold == 0 {
		c.DisplayThreshold = DefaultDisplayThreshold
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.TechnicalPrefix == "" {
		c.TechnicalPrefix = DefaultPrefix
	}
}

// Validate reports whether the thresholds are consistent.
func (c Config) Validate() error {
	var errs []error
	if c.CommitThreshold <= 0 || c.CommitThreshold > 1 {
		errs = append(errs, fmt.Errorf("commit threshold %v must be in (0, 1]", c.CommitThreshold))
	}
	if c.DisplayThreshold <= 0 || c.DisplayThreshold > 1 {
		errs = append(errs, fmt.Errorf("display threshold %v must be in (0, 1]", c.DisplayThreshold))
	}
	if c.DisplayThreshold > c.CommitThreshold {
		errs = append(errs, fmt.Errorf("display threshold %v exceeds commit threshold %v",
			c.DisplayThreshold, c.CommitThreshold))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, errors.New("stale timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// DisplayState is the filter's observable state.
type DisplayState struct {
	// Word is the word currently shown, or "" when nothing is shown.
	Word string

	// LastStrong is when the last label above the commit threshold arrived.
	LastStrong time.Time

	// Ignored is the word suppressed by the ignore guard, or "".
	Ignored string

	// Committed is the last label reported as Detected. It is cleared when
	// the display goes stale or is cleared.
	Committed string
}

// Event is the outcome of a single [Filter.Update].
type Event struct {
	// Word is the display word after the update.
	Word string

	// Previous is the display word before the update.
	Previous string

	// Confidence is the confidence of the processed classification.
	Confidence float64

	// Changed reports Word != Previous.
	Changed bool

	// Detected is set when Word should be committed to the sentence. The label
	// is a real word above the commit threshold and differs from the last
	// committed label.
	Detected bool

	// Ignored reports that the label was suppressed by the ignore guard.
	Ignored bool
}

// Filter implements the two-threshold sticky display logic.
type Filter struct {
	cfg   Config
	state DisplayState
}

// New creates a Filter. Zero Config fields take their defaults.
func New(cfg Config) (*Filter, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stability: %w", err)
	}
	return &Filter{cfg: cfg}, nil
}

// Update feeds one classification observed at now and returns the resulting
// display event.
func (f *Filter) Update(cls types.Classification, now time.Time) Event {
	prev := f.state.Word

	if f.state.Ignored != "" {
		if cls.Label == f.state.Ignored {
			f.state.Word = ""
			return Event{
				Previous:   prev,
				Confidence: cls.Confidence,
				Changed:    prev != "",
				Ignored:    true,
			}
		}
		f.state.Ignored = ""
	}

	word := f.isWord(cls.Label)
	strong := word && cls.Confidence > f.cfg.CommitThreshold
	detected := strong && cls.Label != f.state.Committed
	if strong {
		f.state.LastStrong = now
		f.state.Committed = cls.Label
	}

	switch {
	case word && cls.Confidence > f.cfg.DisplayThreshold:
		f.state.Word = cls.Label
	case now.Sub(f.state.LastStrong) > f.cfg.StaleAfter:
		f.state.Word = ""
		f.state.Committed = ""
	}

	return Event{
		Word:       f.state.Word,
		Previous:   prev,
		Confidence: cls.Confidence,
		Changed:    f.state.Word != prev,
		Detected:   detected,
	}
}

// Ignore suppresses word until a different label is observed. The display
// word is cleared immediately.
func (f *Filter) Ignore(word string) {
	f.state.Ignored = word
	f.state.Word = ""
	f.state.Committed = ""
}

// ResetIgnore drops the ignore guard.
func (f *Filter) ResetIgnore() {
	f.state.Ignored = ""
}

// Clear empties the display word without touching the ignore guard.
func (f *Filter) Clear() {
	f.state.Word = ""
	f.state.Committed = ""
}

// State returns a copy of the current display state.
func (f *Filter) State() DisplayState {
	return f.state
}

// Config returns the active configuration.
func (f *Filter) Config() Config {
	return f.cfg
}

// SetThresholds replaces the commit and display thresholds, keeping the
// current display state.
func (f *Filter) SetThresholds(commit, display float64) error {
	cfg := f.cfg
	cfg.CommitThreshold = commit
	cfg.DisplayThreshold = display
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("stability: %w", err)
	}
	f.cfg = cfg
	return nil
}

func (f *Filter) isWord(label string) bool {
	return label != "" && !types.IsTechnicalLabel(label, f.cfg.TechnicalPrefix)
}
