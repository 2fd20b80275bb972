// Package openai provides an LLM provider backed by the OpenAI chat
// completions API or an Azure OpenAI deployment.
package openai

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/meetagent/pkg/provider/internal/oaiclient"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider answers chat completions for one model or Azure deployment.
type Provider struct {
	client oai.Client
	model  string
}

// Option is a functional option for Provider.
type Option = oaiclient.Option

// Re-exported client options.
var (
	WithBaseURL      = oaiclient.WithBaseURL
	WithOrganization = oaiclient.WithOrganization
	WithTimeout      = oaiclient.WithTimeout
	WithAzure        = oaiclient.WithAzure
	WithHTTPClient   = oaiclient.WithHTTPClient
)

// New returns a Provider for model. With WithAzure, model names the
// deployment.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	cfg := oaiclient.Config{APIKey: apiKey}
	for _, o := range opts {
		o(&cfg)
	}
	client, err := oaiclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Complete sends one chat completion and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion %s: %w", p.model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: chat completion %s: no choices", p.model)
	}
	first := completion.Choices[0]
	u := completion.Usage
	return &llm.CompletionResponse{
		Content:      strings.TrimSpace(first.Message.Content),
		FinishReason: first.FinishReason,
		Usage:        llm.Usage{PromptTokens: int(u.PromptTokens), CompletionTokens: int(u.CompletionTokens), TotalTokens: int(u.TotalTokens)},
	}, nil
}

// Capabilities returns the known limits of the configured model family.
func (p *Provider) Capabilities() llm.ModelCapabilities { return llm.KnownCapabilities(p.model) }

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		u, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, u)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

// convertMessage maps a history message onto the SDK union. Speaker names
// are kept for user and assistant turns.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	var u oai.ChatCompletionMessageParamUnion
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		u = oai.UserMessage(m.Content)
		if m.Name != "" {
			u.OfUser.Name = oai.String(m.Name)
		}
	case llm.RoleAssistant:
		a := &oai.ChatCompletionAssistantMessageParam{}
		a.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		u.OfAssistant = a
	default:
		return u, fmt.Errorf("unknown role %q", m.Role)
	}
	return u, nil
}
