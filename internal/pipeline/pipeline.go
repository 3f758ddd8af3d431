// Package pipeline runs the recognition loop.
//
// A single goroutine ([Pipeline.Run]) owns the frame window, the stability
// filter and the word buffer. It feeds every landmark frame through
// window → stability → sentence and hands committed words to the debounce
// scheduler. Scheduler events come back to the same goroutine, which is the
// only place the word buffer is ever cleared: after [debounce.Scheduler.Commit]
// accepted a finished session.
//
// Everything observable is published as a [Snapshot] on a [Hub]. Control
// requests from the web layer are serialised onto the loop as commands.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/androsja/Se-alyze/internal/debounce"
	"github.com/androsja/Se-alyze/internal/observe"
	"github.com/androsja/Se-alyze/internal/sentence"
	"github.com/androsja/Se-alyze/internal/stability"
	"github.com/androsja/Se-alyze/internal/window"
	"github.com/androsja/Se-alyze/pkg/types"
)

// ErrNotRunning is returned by control methods when [Pipeline.Run] is not
// active.
var ErrNotRunning = errors.New("pipeline: not running")

const defaultIdleCheck = 250 * time.Millisecond

// Config wires the pipeline stages. All stage fields are required.
type Config struct {
	Frames    <-chan types.Frame
	Window    *window.Buffer
	Filter    *stability.Filter
	Words     *sentence.Buffer
	Scheduler *debounce.Scheduler

	// Hub receives snapshots. Nil creates a private hub.
	Hub *Hub

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the clock used for staleness. Default: time.Now.
	Now func() time.Time

	// IdleCheck is how often a silent tracker is checked for a stale display
	// word. Default: 250ms.
	IdleCheck time.Duration
}

type command struct {
	apply func(p *Pipeline) (any, error)
	reply chan result
}

type result struct {
	val any
	err error
}

// Pipeline is the single-owner recognition loop.
type Pipeline struct {
	cfg     Config
	hub     *Hub
	metrics *observe.Metrics
	now     func() time.Time

	cmds    chan command
	running chan struct{}
	stopped chan struct{}

	// Loop-owned state.
	confidence float64
	lastFrame  time.Time
}

// New validates cfg and returns a pipeline ready to [Pipeline.Run].
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Frames == nil:
		return nil, errors.New("pipeline: frames channel is required")
	case cfg.Window == nil, cfg.Filter == nil, cfg.Words == nil, cfg.Scheduler == nil:
		return nil, errors.New("pipeline: window, filter, words and scheduler are required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IdleCheck <= 0 {
		cfg.IdleCheck = defaultIdleCheck
	}
	return &Pipeline{
		cfg:     cfg,
		hub:     cfg.Hub,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		cmds:    make(chan command),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Hub returns the snapshot hub.
func (p *Pipeline) Hub() *Hub { return p.hub }

// Running reports whether [Pipeline.Run] has started and not yet returned.
func (p *Pipeline) Running() bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	select {
	case <-p.running:
		return true
	default:
		return false
	}
}

// Run processes frames, scheduler events and commands until ctx is done. A
// closed frame channel does not stop the loop, so sessions already in flight
// still finish. Run must be called at most once.
func (p *Pipeline) Run(ctx context.Context) error {
	close(p.running)
	defer close(p.stopped)

	sched := p.cfg.Scheduler
	frames := p.cfg.Frames
	idle := time.NewTicker(p.cfg.IdleCheck)
	defer idle.Stop()

	p.publish()
	for {
		select {
		case <-ctx.Done():
			return nil

		case f, ok := <-frames:
			if !ok {
				frames = nil
				observe.Logger(ctx).Info("landmark stream closed")
				continue
			}
			p.handleFrame(ctx, f)

		case ev := <-sched.Events():
			p.handleEvent(ctx, ev)

		case <-sched.Changes():
			p.publish()

		case cmd := <-p.cmds:
			val, err := cmd.apply(p)
			cmd.reply <- result{val: val, err: err}
			p.publish()

		case <-idle.C:
			p.checkIdle()
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f types.Frame) {
	now := p.now()
	p.lastFrame = now

	start := time.Now()
	cls, ok, err := p.cfg.Window.Push(ctx, f)
	if !ok {
		return
	}
	outcome := "classified"
	switch {
	case err != nil:
		outcome = "error"
		observe.Logger(ctx).Warn("classification failed", "err", err)
	case cls == p.cfg.Window.NoHands():
		outcome = "no_hands"
	default:
		p.metrics.ClassifierDuration.Record(ctx, time.Since(start).Seconds())
	}
	p.metrics.RecordClassification(ctx, outcome)

	ev := p.cfg.Filter.Update(cls, now)
	p.confidence = ev.Confidence
	if ev.Detected {
		p.commitWord(ctx, ev.Word)
	}
	if ev.Changed || ev.Detected {
		p.publish()
	}
}

// commitWord appends a detected word and drives the scheduler.
func (p *Pipeline) commitWord(ctx context.Context, word string) {
	words := p.cfg.Words
	if !words.AddWord(word) {
		return
	}
	p.metrics.WordsCommitted.Add(ctx, 1)

	// A new word starts a new sentence; the previous one leaves the screen.
	words.ClearSentence()

	dec := p.cfg.Scheduler.Submit(word, words.Words())
	switch dec {
	case debounce.DecisionStarted, debounce.DecisionRestarted:
		p.metrics.RecordSession(ctx, dec.String())
	}
	st := p.cfg.Scheduler.State()
	observe.SessionLogger(ctx, st.SessionID).Debug("word committed",
		"word", word, "decision", dec.String(), "words", words.Len())
}

func (p *Pipeline) handleEvent(ctx context.Context, ev debounce.Event) {
	switch ev.Kind {
	case debounce.EventReady:
		if !p.cfg.Scheduler.Commit(ev) {
			p.metrics.RecordSession(ctx, "stale")
			return
		}
		p.cfg.Words.Finalize(ev.Text)
		p.cfg.Filter.Ignore(p.cfg.Filter.State().Word)
		p.metrics.RecordSession(ctx, "finalized")

		source := "provider"
		if ev.Raw || ev.Text == strings.Join(ev.Words, " ") {
			source = "raw"
		}
		p.metrics.RecordSentence(ctx, source)
		observe.SessionLogger(ctx, ev.SessionID).Info("sentence ready",
			"text", ev.Text, "words", len(ev.Words), "source", source)

	case debounce.EventQuiescent:
		p.cfg.Words.ClearSentence()
		p.cfg.Filter.ResetIgnore()
	}
	p.publish()
}

// checkIdle expires the display word when the tracker went silent, since
// the filter otherwise only advances on frames.
func (p *Pipeline) checkIdle() {
	st := p.cfg.Filter.State()
	if st.Word == "" || p.lastFrame.IsZero() {
		return
	}
	now := p.now()
	if now.Sub(p.lastFrame) <= p.cfg.Filter.Config().StaleAfter {
		return
	}
	if ev := p.cfg.Filter.Update(p.cfg.Window.NoHands(), now); ev.Changed {
		p.confidence = 0
		p.publish()
	}
}

func (p *Pipeline) publish() {
	st := p.cfg.Scheduler.State()
	p.hub.Publish(Snapshot{
		Word:       p.cfg.Filter.State().Word,
		Confidence: p.confidence,
		Words:      p.cfg.Words.Words(),
		Sentence:   p.cfg.Words.Sentence(),
		Phase:      st.Phase.String(),
		Progress:   st.Progress,
		Anchor:     st.Anchor,
		SessionID:  st.SessionID,
		DelayMS:    st.Delay.Milliseconds(),
		UpdatedAt:  p.now(),
	})
}

// do runs fn on the loop goroutine and waits for its result.
func (p *Pipeline) do(ctx context.Context, fn func(p *Pipeline) (any, error)) (any, error) {
	select {
	case <-p.running:
	default:
		return nil, ErrNotRunning
	}
	cmd := command{apply: fn, reply: make(chan result, 1)}
	select {
	case p.cmds <- cmd:
	case <-p.stopped:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Clear cancels any pending session and empties the word buffer and the
// displayed sentence.
func (p *Pipeline) Clear(ctx context.Context) error {
	_, err := p.do(ctx, func(p *Pipeline) (any, error) {
		if p.cfg.Scheduler.Cancel() {
			p.metrics.RecordSession(ctx, "cancelled")
		}
		p.cfg.Words.Clear()
		p.cfg.Filter.ResetIgnore()
		return nil, nil
	})
	return err
}

// GenerateNow skips the remaining wait of the live session, or starts one
// over the buffered words.
func (p *Pipeline) GenerateNow(ctx context.Context) (debounce.Decision, error) {
	v, err := p.do(ctx, func(p *Pipeline) (any, error) {
		dec := p.cfg.Scheduler.GenerateNow(p.cfg.Words.Words())
		if dec == debounce.DecisionStarted || dec == debounce.DecisionExpedited {
			p.metrics.RecordSession(ctx, debounce.DecisionExpedited.String())
		}
		return dec, nil
	})
	if err != nil {
		return debounce.DecisionIgnored, err
	}
	return v.(debounce.Decision), nil
}

// SetDelay changes the debounce delay for sessions started afterwards.
func (p *Pipeline) SetDelay(ctx context.Context, d time.Duration) error {
	_, err := p.do(ctx, func(p *Pipeline) (any, error) {
		return nil, p.cfg.Scheduler.SetDelay(d)
	})
	return err
}

// SetThresholds changes the stability thresholds.
func (p *Pipeline) SetThresholds(ctx context.Context, commit, display float64) error {
	_, err := p.do(ctx, func(p *Pipeline) (any, error) {
		return nil, p.cfg.Filter.SetThresholds(commit, display)
	})
	if err != nil {
		return fmt.Errorf("pipeline: set thresholds: %w", err)
	}
	return nil
}
