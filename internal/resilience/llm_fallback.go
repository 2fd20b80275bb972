package resilience

import (
	"context"

	"github.com/MrWong99/meetagent/pkg/provider/llm"
)

// LLM fails over between chat-completion backends.
type LLM struct{ group *Group[llm.Provider] }

var _ llm.Provider = (*LLM)(nil)

// NewLLM wraps primary; add fallbacks with AddFallback.
func NewLLM(name string, primary llm.Provider, cfg BreakerConfig) *LLM {
	return &LLM{group: NewGroup(name, primary, cfg)}
}

func (f *LLM) AddFallback(name string, p llm.Provider) { f.group.Add(name, p) }

func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's limits.
func (f *LLM) Capabilities() llm.ModelCapabilities { return f.group.Primary().Capabilities() }
