// Package respond is the reply side of a turn: a local gate that decides
// whether an utterance deserves an answer, and a generator that asks the
// chat model for one while keeping a rolling exchange history.
//
// Generation failures never leave this package as errors; they are logged
// and reported as a failed [Reply].
package respond

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
)

// Apology is spoken in place of a reply when generation fails and the agent
// is configured to apologize.
const Apology = "I'm sorry, I'm having trouble responding right now."

// Defaults for zero Config fields.
const (
	DefaultMaxTokens     = 1000
	DefaultTemperature   = 0.7
	DefaultContextWindow = 6
	DefaultHistoryCap    = 50
)

// Config tunes a Generator.
type Config struct {
	AgentName string

	// Provider names the backend in metrics.
	Provider string

	MaxTokens int
	// Temperature is the sampling temperature. Nil or negative means
	// DefaultTemperature; zero is kept.
	Temperature *float64

	// ContextWindow is how many history messages precede the utterance.
	ContextWindow int

	// HistoryCap bounds the stored exchange history, in messages.
	HistoryCap int

	// NameThreshold overrides DefaultNameThreshold.
	NameThreshold float64

	Metrics *observe.Metrics
}

// Reply is the outcome of Generate. Text is empty when the model returned
// nothing or the call failed; Failed distinguishes the two.
type Reply struct {
	Text   string
	Failed bool
}

// HistorySummary counts the stored exchange history.
type HistorySummary struct {
	AgentName         string `json:"agent_name"`
	Messages          int    `json:"messages"`
	UserMessages      int    `json:"user_messages"`
	AssistantMessages int    `json:"assistant_messages"`
}

// Generator wraps an llm.Provider. It is safe for concurrent use.
type Generator struct {
	llm   llm.Provider
	cfg   Config
	names NameMatcher

	mu      sync.Mutex
	agent   string
	history []llm.Message
}

// New returns a Generator over p.
func New(p llm.Provider, cfg Config) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == nil || *cfg.Temperature < 0 {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.Provider == "" {
		cfg.Provider = "llm"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Generator{
		llm:   p,
		cfg:   cfg,
		names: NameMatcher{Threshold: cfg.NameThreshold},
		agent: cfg.AgentName,
	}
}

// AgentName returns the name the gate listens for.
func (g *Generator) AgentName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.agent
}

// SetAgentName changes the persona and gate name.
func (g *Generator) SetAgentName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agent = name
}

// Generate asks the model for a reply to text. On success the utterance and
// the reply are appended to the history.
func (g *Generator) Generate(ctx context.Context, text string, p Prompt) Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}
	}

	g.mu.Lock()
	agent := g.agent
	window := g.history[max(0, len(g.history)-g.cfg.ContextWindow):]
	msgs := make([]llm.Message, 0, len(window)+1)
	msgs = append(msgs, window...)
	g.mu.Unlock()
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	if p.Meeting.AgentName != "" {
		agent = p.Meeting.AgentName
	}
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(agent, p),
		Messages:     msgs,
		Temperature:  *g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	}

	log := observe.Logger(ctx)
	start := time.Now()
	resp, err := g.llm.Complete(ctx, req)
	g.cfg.Metrics.ObserveCall(ctx, observe.KindLLM, g.cfg.Provider, time.Since(start), err)
	if err != nil {
		log.Error("respond: completion failed", "err", err)
		return Reply{Failed: true}
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		log.Warn("respond: empty completion", "finish_reason", resp.FinishReason)
		return Reply{}
	}
	log.Debug("respond: reply generated",
		"chars", len(reply),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start))

	g.mu.Lock()
	g.history = append(g.history,
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if over := len(g.history) - g.cfg.HistoryCap; over > 0 {
		g.history = slices.Delete(g.history, 0, over)
	}
	g.mu.Unlock()

	return Reply{Text: reply}
}

// History returns a copy of the stored exchanges.
func (g *Generator) History() []llm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.history)
}

// ClearHistory drops every stored exchange.
func (g *Generator) ClearHistory() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
}

// Summary counts the stored history.
func (g *Generator) Summary() HistorySummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := HistorySummary{AgentName: g.agent, Messages: len(g.history)}
	for _, m := range g.history {
		switch m.Role {
		case llm.RoleUser:
			s.UserMessages++
		case llm.RoleAssistant:
			s.AssistantMessages++
		}
	}
	return s
}

// Ping sends a minimal completion to check the backend is reachable.
func (g *Generator) Ping(ctx context.Context) error {
	_, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Say OK."}},
		MaxTokens: 5,
	})
	if err != nil {
		slog.Warn("respond: ping failed", "err", err)
	}
	return err
}
