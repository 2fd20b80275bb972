package orchestrator

import (
	"sync"
	"time"
)

// Guard is the feedback-guard window: audio that ends inside it is treated
// as the agent's own voice.
type Guard struct {
	now func() time.Time

	mu    sync.Mutex
	until time.Time
}

// NewGuard returns a closed guard.
func NewGuard() *Guard { return &Guard{now: time.Now} }

// Extend moves the window end to until unless it already ends later.
func (g *Guard) Extend(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.until) {
		g.until = until
	}
}

// Set moves the window end to until, earlier or later.
func (g *Guard) Set(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = until
}

// Close ends the window now.
func (g *Guard) Close() { g.Set(time.Time{}) }

// Active reports whether now is before the window end.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.until)
}

// Until returns the window end. The zero time means closed.
func (g *Guard) Until() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until
}
