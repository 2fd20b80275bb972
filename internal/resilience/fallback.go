package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted wraps the last error when no entry of a [Group] succeeded.
var ErrExhausted = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable providers, each guarded by its
// own [Breaker]. Entries are fixed before use; Group is then safe for
// concurrent calls.
type Group[T any] struct {
	cfg     BreakerConfig
	entries []entry[T]
}

// NewGroup returns a Group whose first entry is primary. cfg.Name is
// replaced by each entry's name.
func NewGroup[T any](name string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback entry.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Names lists entry names in try order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first entry's value.
func (g *Group[T]) Primary() T { return g.entries[0].value }

// Call tries fn against each entry in order and returns the first success.
// Context errors stop the walk immediately.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	var last error
	for _, e := range g.entries {
		var out R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		last = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("provider skipped, circuit open", "provider", e.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, last)
}
