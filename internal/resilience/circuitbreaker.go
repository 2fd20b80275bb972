// Package resilience guards provider calls with circuit breakers and
// ordered failover.
//
// A [Breaker] trips after consecutive failures and rejects calls until a
// cool-down elapses, then lets a few probes through. A [Group] chains several
// providers of one kind, each behind its own breaker, and tries them in order.
// The typed wrappers ([STT], [LLM], [TTS]) make a Group look like a single
// provider to the rest of the agent.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker rejects a call without running it.
var ErrOpen = errors.New("resilience: circuit open")

// State is the breaker mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// Failures is the consecutive failure count that opens the breaker.
	// Default 5.
	Failures int

	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default 3.
	Probes int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. Cancelled or expired contexts
// are not counted as failures: a stopped turn says nothing about the backend.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn when the breaker admits the call and records its outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var changed bool
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state, b.inFlight, b.successes = StateHalfOpen, 0, 0
		changed = true
	}
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			err = ErrOpen
		} else {
			b.inFlight++
			probe = true
		}
	}
	b.mu.Unlock()
	if changed {
		b.notify(StateOpen, StateHalfOpen)
	}
	return probe, err
}

func (b *Breaker) record(probe bool, err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		b.mu.Lock()
		if probe {
			b.inFlight--
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	from := b.state
	switch {
	case err != nil && probe:
		b.state, b.openedAt = StateOpen, b.now()
	case err != nil:
		b.failures++
		if b.failures >= b.cfg.Failures {
			b.state, b.openedAt = StateOpen, b.now()
		}
	case probe:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.state, b.failures = StateClosed, 0
		}
	default:
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	slog.Info("circuit state change", "name", b.cfg.Name, "from", from.String(), "to", to.String())
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State reports the current mode. An open breaker whose cool-down has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.inFlight, b.successes = StateClosed, 0, 0, 0
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
