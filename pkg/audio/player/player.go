// Package player writes synthesised speech to a local audio sink.
//
// The sink is any [io.Writer] accepting raw signed 16-bit PCM, for example
// the stdin of "aplay -f S16_LE -r 22050 -c 1" or a file. Only one segment
// plays at a time: starting a new one interrupts the previous.
package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/androsja/Se-alyze/pkg/audio"
)

// ErrClosed is returned by [Player.Play] after [Player.Close].
var ErrClosed = errors.New("player: closed")

// Option configures a [Player].
type Option func(*Player)

// WithRealtime paces writes to the byte rate of the output format, so an
// interrupted segment stops mid-sentence like a real speaker would.
func WithRealtime() Option {
	return func(p *Player) { p.realtime = true }
}

// Player copies PCM segments to a writer. All methods are safe for
// concurrent use.
type Player struct {
	w        io.Writer
	format   audio.Format
	realtime bool

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

// New returns a player writing PCM in format f to w.
func New(w io.Writer, f audio.Format, opts ...Option) *Player {
	p := &Player{w: w, format: f}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Format returns the output format chunks are expected in.
func (p *Player) Format() audio.Format { return p.format }

// Play interrupts any current segment and starts copying chunks from src
// until src closes or ctx is cancelled. The returned channel is closed when
// the segment ends for any reason. A ctx that is already done starts nothing
// and leaves the current segment alone. Chunks in src must already be in the
// player's format.
func (p *Player) Play(ctx context.Context, src <-chan []byte) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if ctx.Err() != nil {
		// A stale caller must not cut off the segment that replaced it.
		p.mu.Unlock()
		done := make(chan struct{})
		close(done)
		return done, nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.seq++
	seq := p.seq
	p.wg.Add(1)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer p.wg.Done()
		defer close(done)
		defer p.finish(seq, cancel)
		p.copy(ctx, src)
	}()
	return done, nil
}

func (p *Player) copy(ctx context.Context, src <-chan []byte) {
	rate := p.format.BytesPerSecond()
	start := time.Now()
	var written int
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-src:
			if !ok {
				return
			}
			if _, err := p.w.Write(chunk); err != nil {
				slog.Warn("audio sink write failed", "err", err)
				return
			}
			written += len(chunk)
			if p.realtime && rate > 0 {
				due := start.Add(time.Duration(written) * time.Second / time.Duration(rate))
				if wait := time.Until(due); wait > 0 {
					t := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						t.Stop()
						return
					case <-t.C:
					}
				}
			}
		}
	}
}

func (p *Player) finish(seq uint64, cancel context.CancelFunc) {
	cancel()
	p.mu.Lock()
	if p.seq == seq {
		p.cancel = nil
	}
	p.mu.Unlock()
}

// Playing reports whether a segment is in progress.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Interrupt stops the current segment, if any.
func (p *Player) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Close interrupts playback, waits for the copy goroutine and closes the
// writer if it implements [io.Closer].
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
