// Package debounce implements the speculative debounce scheduler that decides
// when a candidate sentence is finished.
//
// Every committed word is submitted to the [Scheduler]. A submitted word starts
// a session that waits for the configured delay before the sentence is
// finalized. Half way through the delay the session speculatively launches the
// sentence-generation request so its latency hides behind the remaining wait.
// A different word restarts the session and discards whatever the previous
// session produced; the same word again is absorbed.
//
// Sessions move through the phases
//
//	Idle → Waiting → Speculating → Finalizing → Done → Idle
//	            ↘           ↘            ↘
//	                     Cancelled
//
// At most one session is live at a time. Every session carries a generation
// number; results and events tagged with a generation that is no longer live
// are dropped, so a cancelled session can neither speak nor clear state owned
// by its successor.
//
// A finished session does not touch the word buffer itself. It emits an
// [EventReady] on [Scheduler.Events]; the goroutine that owns the word buffer
// calls [Scheduler.Commit], which accepts the result only if the session is
// still the live one, speaks it exactly once, and tells the caller to clear
// the buffer. Submit and Commit are therefore serialised by their caller and no
// path can clear the buffer while a session is still collecting words.
package debounce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults used when a Config field is left zero.
const (
	DefaultDelay           = 5 * time.Second
	DefaultTick            = 100 * time.Millisecond
	DefaultQuiescent       = 2 * time.Second
	DefaultMaxFinalizeWait = 15 * time.Second

	eventBuffer = 8
)

// ErrInvalidDelay is returned by [Scheduler.SetDelay] for non-positive delays.
var ErrInvalidDelay = errors.New("debounce: delay must be positive")

// Phase is the lifecycle phase of the current session.
type Phase int

const (
	// PhaseIdle means no session exists.
	PhaseIdle Phase = iota

	// PhaseWaiting covers the first half of the delay.
	PhaseWaiting

	// PhaseSpeculating covers the second half of the delay, with the
	// generation request in flight.
	PhaseSpeculating

	// PhaseFinalizing waits for the generation result after the delay.
	PhaseFinalizing

	// PhaseDone means the sentence was spoken; the quiescent timer is running.
	PhaseDone

	// PhaseCancelled means the last session was cancelled before finishing.
	PhaseCancelled
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhaseSpeculating:
		return "speculating"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether a session is collecting words or awaiting its result.
func (p Phase) Active() bool {
	return p == PhaseWaiting || p == PhaseSpeculating || p == PhaseFinalizing
}

// Decision reports what [Scheduler.Submit] or [Scheduler.GenerateNow] did.
type Decision int

const (
	// DecisionIgnored means the call had no effect.
	DecisionIgnored Decision = iota

	// DecisionStarted means a new session was started with no predecessor.
	DecisionStarted

	// DecisionAbsorbed means the live session already had this anchor.
	DecisionAbsorbed

	// DecisionRestarted means the live session was cancelled and replaced.
	DecisionRestarted

	// DecisionExpedited means the live session skips its remaining wait.
	DecisionExpedited
)

// String returns the lower-case decision name.
func (d Decision) String() string {
	switch d {
	case DecisionIgnored:
		return "ignored"
	case DecisionStarted:
		return "started"
	case DecisionAbsorbed:
		return "absorbed"
	case DecisionRestarted:
		return "restarted"
	case DecisionExpedited:
		return "expedited"
	default:
		return "unknown"
	}
}

// EventKind distinguishes scheduler events.
type EventKind int

const (
	// EventReady carries the final text of a session that reached the end of
	// Finalizing. It must be passed to [Scheduler.Commit].
	EventReady EventKind = iota + 1

	// EventQuiescent fires once the quiescent window after a spoken sentence
	// has elapsed and the scheduler is back to Idle.
	EventQuiescent
)

// Event is emitted on [Scheduler.Events].
type Event struct {
	Kind       EventKind
	Generation uint64
	SessionID  string
	Anchor     string
	Words      []string

	// Text is the final sentence (EventReady only).
	Text string

	// Raw reports that Text is the plain word concatenation because the
	// generator returned nothing in time.
	Raw bool
}

// Generator produces a sentence from the buffered words. Implementations must
// return promptly once ctx is cancelled. An empty result means failure.
type Generator interface {
	Generate(ctx context.Context, words []string) string
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, words []string) string

// Generate implements [Generator].
func (f GeneratorFunc) Generate(ctx context.Context, words []string) string { return f(ctx, words) }

// Speaker receives the final sentence of each finished session.
// Speak must not block for the duration of the utterance.
type Speaker interface {
	Speak(text string)
}

// Config tunes a [Scheduler].
type Config struct {
	// Delay is the total debounce delay per session. Default: 5s.
	Delay time.Duration

	// Tick is the progress update interval. Default: 100ms.
	Tick time.Duration

	// Quiescent is how long a spoken sentence stays up before the scheduler
	// returns to Idle. Default: 2s.
	Quiescent time.Duration

	// MaxFinalizeWait bounds how long Finalizing waits for the generator
	// before falling back to the raw words. Default: 15s.
	MaxFinalizeWait time.Duration
}

// State is a read-only snapshot of the scheduler.
type State struct {
	Phase      Phase
	Progress   float64
	Anchor     string
	SessionID  string
	Generation uint64
	Delay      time.Duration
}

// session is one debounce cycle. Fields other than expedited are immutable
// after start.
type session struct {
	gen      uint64
	id       string
	anchor   string
	words    []string
	delay    time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	expedite chan struct{}

	expedited bool // guarded by Scheduler.mu
}

// Scheduler is the speculative debounce state machine. Its methods are safe
// for concurrent use, though Submit and Commit are expected to be called from
// the goroutine that owns the word buffer.
type Scheduler struct {
	gen     Generator
	speaker Speaker
	tick    time.Duration
	quiet   time.Duration
	maxWait time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	delay      time.Duration
	cur        *session
	phase      Phase
	progress   float64
	anchor     string
	sessionID  string
	generation uint64
	quietTimer *time.Timer
	closed     bool

	events  chan Event
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler that generates sentences with gen and speaks them
// through speaker.
func New(gen Generator, speaker Speaker, cfg Config) (*Scheduler, error) {
	if gen == nil {
		return nil, errors.New("debounce: generator must not be nil")
	}
	if speaker == nil {
		return nil, errors.New("debounce: speaker must not be nil")
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Quiescent <= 0 {
		cfg.Quiescent = DefaultQuiescent
	}
	if cfg.MaxFinalizeWait <= 0 {
		cfg.MaxFinalizeWait = DefaultMaxFinalizeWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gen:        gen,
		speaker:    speaker,
		tick:       cfg.Tick,
		quiet:      cfg.Quiescent,
		maxWait:    cfg.MaxFinalizeWait,
		baseCtx:    ctx,
		baseCancel: cancel,
		delay:      cfg.Delay,
		events:     make(chan Event, eventBuffer),
		changes:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Events returns the channel of [EventReady] and [EventQuiescent] events.
func (s *Scheduler) Events() <-chan Event { return s.events }

// Changes is signalled (coalesced) whenever the observable [State] changes.
func (s *Scheduler) Changes() <-chan struct{} { return s.changes }

// Submit reports a newly committed word. words is the full word buffer after
// the word was appended; the scheduler keeps its own copy.
func (s *Scheduler) Submit(word string, words []string) Decision {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()

	if s.closed || word == "" {
		return DecisionIgnored
	}
	if s.cur != nil && s.phase.Active() {
		if s.cur.anchor == word {
			return DecisionAbsorbed
		}
		s.cancelLocked()
		s.startLocked(word, words, false)
		return DecisionRestarted
	}
	s.startLocked(word, words, false)
	return DecisionStarted
}

// GenerateNow skips the remaining wait of the live session, or starts an
// already-expedited session over words when none is live. A session that is
// already finalizing or expedited is left alone and DecisionIgnored returned.
func (s *Scheduler) GenerateNow(words []string) Decision {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()

	if s.closed {
		return DecisionIgnored
	}
	if s.cur != nil && s.phase.Active() {
		if s.cur.expedited || s.phase == PhaseFinalizing {
			return DecisionIgnored
		}
		s.cur.expedited = true
		close(s.cur.expedite)
		return DecisionExpedited
	}
	if len(words) == 0 {
		return DecisionIgnored
	}
	s.startLocked(words[len(words)-1], words, true)
	return DecisionStarted
}

// Cancel aborts the live session, if any, and stops the quiescent timer.
// It reports whether a live session was cancelled.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()

	s.stopQuietLocked()
	if s.cur != nil && s.phase.Active() {
		s.cancelLocked()
		return true
	}
	s.phase = PhaseIdle
	s.progress = 0
	return false
}

// Commit accepts an [EventReady] if its session is still live and Finalizing.
// On acceptance the sentence is spoken exactly once, the scheduler enters
// Done and the quiescent timer starts; the caller must then clear its word
// buffer. Stale or repeated events are rejected.
func (s *Scheduler) Commit(ev Event) bool {
	s.mu.Lock()
	if s.closed || ev.Kind != EventReady || s.cur == nil ||
		s.cur.gen != ev.Generation || s.phase != PhaseFinalizing {
		s.mu.Unlock()
		return false
	}
	s.cur.cancel()
	s.cur = nil
	s.phase = PhaseDone
	s.progress = 0
	s.armQuietLocked(ev.Generation)
	s.mu.Unlock()

	s.notify()
	s.speaker.Speak(ev.Text)
	return true
}

// SetDelay changes the delay used by sessions started afterwards.
func (s *Scheduler) SetDelay(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDelay
	}
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
	s.notify()
	return nil
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Phase:      s.phase,
		Progress:   s.progress,
		Anchor:     s.anchor,
		SessionID:  s.sessionID,
		Generation: s.generation,
		Delay:      s.delay,
	}
}

// Close cancels any live session and waits for its goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cur != nil {
		s.cancelLocked()
	}
	s.stopQuietLocked()
	s.mu.Unlock()

	s.baseCancel()
	close(s.done)
	s.wg.Wait()
}

// startLocked begins a new session. Must be called with s.mu held.
func (s *Scheduler) startLocked(anchor string, words []string, expedited bool) {
	s.stopQuietLocked()
	s.generation++
	ctx, cancel := context.WithCancel(s.baseCtx)
	sess := &session{
		gen:       s.generation,
		id:        uuid.NewString(),
		anchor:    anchor,
		words:     append([]string(nil), words...),
		delay:     s.delay,
		ctx:       ctx,
		cancel:    cancel,
		expedite:  make(chan struct{}),
		expedited: expedited,
	}
	if expedited {
		close(sess.expedite)
	}
	s.cur = sess
	s.phase = PhaseWaiting
	s.progress = 0
	s.anchor = anchor
	s.sessionID = sess.id

	s.wg.Add(1)
	go s.run(sess)
}

// cancelLocked cancels the live session. Must be called with s.mu held.
func (s *Scheduler) cancelLocked() {
	s.cur.cancel()
	s.cur = nil
	s.phase = PhaseCancelled
	s.progress = 0
}

func (s *Scheduler) armQuietLocked(gen uint64) {
	s.stopQuietLocked()
	s.quietTimer = time.AfterFunc(s.quiet, func() { s.onQuiet(gen) })
}

func (s *Scheduler) stopQuietLocked() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
}

func (s *Scheduler) onQuiet(gen uint64) {
	s.mu.Lock()
	if s.closed || s.phase != PhaseDone || s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseIdle
	s.quietTimer = nil
	s.mu.Unlock()
	s.notify()

	select {
	case s.events <- Event{Kind: EventQuiescent, Generation: gen}:
	case <-s.done:
	}
}

// run drives one session from Waiting to the emission of its EventReady.
func (s *Scheduler) run(sess *session) {
	defer s.wg.Done()

	half := sess.delay / 2
	if !s.wait(sess, 0, 0.5, half) {
		return
	}
	if !s.enter(sess, PhaseSpeculating, 0.5) {
		return
	}

	result := make(chan string, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result <- s.gen.Generate(sess.ctx, sess.words)
	}()

	if !s.wait(sess, 0.5, 1, sess.delay-half) {
		return
	}
	if !s.enter(sess, PhaseFinalizing, 1) {
		return
	}

	var text string
	deadline := time.NewTimer(s.maxWait)
	defer deadline.Stop()
	select {
	case text = <-result:
	case <-deadline.C:
	case <-sess.ctx.Done():
		return
	}

	ev := Event{
		Kind:       EventReady,
		Generation: sess.gen,
		SessionID:  sess.id,
		Anchor:     sess.anchor,
		Words:      sess.words,
		Text:       strings.TrimSpace(text),
	}
	if ev.Text == "" {
		ev.Text = strings.Join(sess.words, " ")
		ev.Raw = true
	}

	select {
	case s.events <- ev:
	case <-sess.ctx.Done():
	}
}

// wait advances progress from `from` to `to` over d, ticking every s.tick.
// It returns false if the session was cancelled.
func (s *Scheduler) wait(sess *session, from, to float64, d time.Duration) bool {
	if d <= 0 {
		s.setProgress(sess, to)
		return sess.ctx.Err() == nil
	}

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return false
		case <-sess.expedite:
			s.setProgress(sess, to)
			return true
		case <-timer.C:
			s.setProgress(sess, to)
			return true
		case <-ticker.C:
			frac := min(float64(time.Since(start))/float64(d), 1)
			s.setProgress(sess, from+(to-from)*frac)
		}
	}
}

// enter moves the live session into phase. It returns false if sess is no
// longer live.
func (s *Scheduler) enter(sess *session, phase Phase, progress float64) bool {
	s.mu.Lock()
	if s.cur != sess || sess.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.phase = phase
	s.progress = progress
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Scheduler) setProgress(sess *session, p float64) {
	s.mu.Lock()
	if s.cur != sess {
		s.mu.Unlock()
		return
	}
	s.progress = p
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
