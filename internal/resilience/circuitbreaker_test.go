package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(cfg)
	b.now = clk.now
	return b, clk
}

func fail(context.Context) error { return errBackend }
func succeed(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Failures != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 3 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	var transitions []string
	b, clk := newTestBreaker(BreakerConfig{
		Name:     "stt",
		Failures: 2,
		Cooldown: 10 * time.Second,
		Probes:   2,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("one failure opened the breaker")
	}
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}

	clk.advance(10 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("after cooldown state = %v, want half-open", b.State())
	}
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("one probe closed the breaker")
	}
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(BreakerConfig{Failures: 1, Cooldown: time.Second})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.advance(time.Second)
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	clk.advance(500 * time.Millisecond)
	if err := b.Do(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("cooldown restarted on reopen: err = %v", err)
	}
}

func TestBreaker_SuccessClearsFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 3})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_ContextErrorsNotCounted(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("cancellation opened the breaker")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 1, Cooldown: time.Hour})
	_ = b.Do(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}
