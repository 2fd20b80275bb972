package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
	"github.com/MrWong99/meetagent/pkg/provider/llm/mock"
)

func TestGenerate_Temperature(t *testing.T) {
	t.Parallel()
	zero, neg, hot := 0.0, -1.0, 1.3
	tests := []struct {
		name string
		temp *float64
		want float64
	}{
		{"unset", nil, DefaultTemperature},
		{"explicit zero", &zero, 0},
		{"negative", &neg, DefaultTemperature},
		{"custom", &hot, 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Response: &llm.CompletionResponse{Content: "ok"}}
			g := New(p, Config{AgentName: "Ava", Temperature: tt.temp})
			g.Generate(context.Background(), "what is next", Prompt{})
			req, ok := p.LastRequest()
			if !ok {
				t.Fatal("no request recorded")
			}
			if req.Temperature != tt.want {
				t.Errorf("temperature = %v, want %v", req.Temperature, tt.want)
			}
		})
	}
}

func TestGenerate_Request(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "  Hi, I'm Ava.  "}}
	g := New(p, Config{AgentName: "Ava"})

	reply := g.Generate(context.Background(), "Hello, can you introduce yourself?", Prompt{
		Meeting: conversation.Context{
			MeetingTitle: "Quarterly planning",
			Participants: []string{"Sam", "Kim"},
			Topics:       []string{"budget"},
		},
		Recalled: []string{"Sam: the budget is due Friday"},
	})
	if reply.Failed || reply.Text != "Hi, I'm Ava." {
		t.Fatalf("reply = %+v", reply)
	}

	req, ok := p.LastRequest()
	if !ok {
		t.Fatal("no request recorded")
	}
	for _, want := range []string{
		"You are Ava, an AI assistant",
		"Meeting context: Professional discussion",
		"Meeting topic: Quarterly planning",
		"Participants: Sam, Kim",
		"Recent topics: budget",
		"- Sam: the budget is due Friday",
	} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
	if req.MaxTokens != DefaultMaxTokens || req.Temperature != DefaultTemperature {
		t.Errorf("sampling = %d/%v", req.MaxTokens, req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("messages = %+v", req.Messages)
	}

	h := g.History()
	if len(h) != 2 || h[0].Role != llm.RoleUser || h[1].Content != "Hi, I'm Ava." {
		t.Errorf("history = %+v", h)
	}
}

func TestGenerate_ContextWindowAndCap(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{ResponseFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "reply to " + req.Messages[len(req.Messages)-1].Content}, nil
	}}
	g := New(p, Config{AgentName: "Ava", ContextWindow: 6, HistoryCap: 8})

	for i := range 6 {
		if r := g.Generate(context.Background(), fmt.Sprintf("utterance %d", i), Prompt{}); r.Text == "" {
			t.Fatalf("turn %d: empty reply", i)
		}
	}

	req, _ := p.LastRequest()
	if len(req.Messages) != 7 {
		t.Errorf("request carried %d messages, want 6 history + 1", len(req.Messages))
	}
	if req.Messages[0].Content != "utterance 2" {
		t.Errorf("window starts at %q, want utterance 2", req.Messages[0].Content)
	}

	h := g.History()
	if len(h) != 8 {
		t.Fatalf("history len = %d, want 8", len(h))
	}
	if h[0].Content != "utterance 2" {
		t.Errorf("oldest kept = %q", h[0].Content)
	}

	sum := g.Summary()
	if sum.Messages != 8 || sum.UserMessages != 4 || sum.AssistantMessages != 4 || sum.AgentName != "Ava" {
		t.Errorf("summary = %+v", sum)
	}
	g.ClearHistory()
	if len(g.History()) != 0 {
		t.Error("ClearHistory kept messages")
	}
}

func TestGenerate_Degrades(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		provider   *mock.Provider
		text       string
		wantFailed bool
		wantCalls  int
	}{
		{name: "empty text", provider: &mock.Provider{}, text: "   ", wantCalls: 0},
		{name: "backend error", provider: &mock.Provider{Err: errors.New("503")}, text: "hello ava", wantFailed: true, wantCalls: 1},
		{name: "empty completion", provider: &mock.Provider{Response: &llm.CompletionResponse{Content: " "}}, text: "hello ava", wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := New(tc.provider, Config{AgentName: "Ava"})
			r := g.Generate(context.Background(), tc.text, Prompt{})
			if r.Text != "" || r.Failed != tc.wantFailed {
				t.Errorf("reply = %+v, want failed=%v", r, tc.wantFailed)
			}
			if got := tc.provider.CallCount(); got != tc.wantCalls {
				t.Errorf("calls = %d, want %d", got, tc.wantCalls)
			}
			if len(g.History()) != 0 {
				t.Error("failed turn recorded in history")
			}
		})
	}
}

func TestGenerate_PromptAgentOverride(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "ok"}}
	g := New(p, Config{AgentName: "Ava"})
	g.Generate(context.Background(), "hello", Prompt{Meeting: conversation.Context{AgentName: "Nova"}})
	req, _ := p.LastRequest()
	if !strings.HasPrefix(req.SystemPrompt, "You are Nova,") {
		t.Errorf("prompt = %q", req.SystemPrompt)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	if err := New(&mock.Provider{}, Config{}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	boom := errors.New("down")
	if err := New(&mock.Provider{Err: boom}, Config{}).Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v", err)
	}
}
