// Package openai provides a TTS provider backed by the OpenAI speech API
// (tts-1, tts-1-hd, gpt-4o-mini-tts) or an Azure OpenAI deployment of it.
package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/meetagent/pkg/provider/internal/oaiclient"
	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

// Defaults used when New or a request leaves a value empty.
const (
	DefaultModel = "tts-1"
	DefaultVoice = "alloy"
)

// Voices lists the built-in voices of the speech API.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

var _ tts.Provider = (*Provider)(nil)

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

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a speech provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	cfg := oaiclient.Config{APIKey: apiKey}
	for _, o := range opts {
		o(&cfg)
	}
	client, err := oaiclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// buildParams validates req and converts it into SDK params. Unknown voices
// fall back to DefaultVoice and unknown formats to mp3, both with a warning.
func (p *Provider) buildParams(req tts.Request) oai.AudioSpeechNewParams {
	voice := strings.ToLower(req.Voice)
	if !slices.Contains(Voices, voice) {
		if voice != "" {
			slog.Warn("openai tts: unknown voice, using default", "voice", req.Voice, "default", DefaultVoice)
		}
		voice = DefaultVoice
	}
	format := strings.ToLower(req.Format)
	if !tts.ValidFormat(format) {
		if format != "" {
			slog.Warn("openai tts: unknown format, using mp3", "format", req.Format)
		}
		format = tts.FormatMP3
	}

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if req.Speed != 0 {
		params.Speed = oai.Float(tts.ClampSpeed(req.Speed))
	}
	return params
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("openai tts: text must not be empty")
	}
	params := p.buildParams(req)

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	out := &tts.Audio{Data: data, Format: string(params.ResponseFormat)}
	if out.Format == tts.FormatPCM {
		out.SampleRate = 24000
	}
	return out, nil
}

// ListVoices returns the built-in voices. The API has no voices endpoint.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(Voices))
	for _, v := range Voices {
		voices = append(voices, tts.Voice{ID: v, Name: v, Provider: "openai"})
	}
	return voices, nil
}
