package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})
	for range 3 {
		_ = b.Execute(ctx, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{"probe succeeds", succeed, StateClosed},
		{"probe fails", fail, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			clock := newFakeClock()
			b := NewBreaker(BreakerConfig{
				Name:         "test",
				MaxFailures:  2,
				ResetTimeout: 10 * time.Second,
				Now:          clock.Now,
			})
			_ = b.Execute(ctx, fail)
			_ = b.Execute(ctx, fail)

			clock.Advance(11 * time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", b.State())
			}
			_ = b.Execute(ctx, tc.probe)
			if b.State() != tc.want {
				t.Fatalf("state = %v, want %v", b.State(), tc.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second, Now: clock.Now})
	_ = b.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe
	if err := b.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	err := b.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after cancellation", b.State())
	}
	if err := b.Execute(ctx, succeed); !errors.Is(err, context.Canceled) {
		t.Fatalf("done ctx: err = %v, want context.Canceled", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Execute(ctx, fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
