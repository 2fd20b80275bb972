// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe) or an Azure OpenAI
// deployment of the same.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/meetagent/pkg/provider/internal/oaiclient"
	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

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

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a transcription provider.
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

// verboseTranscription mirrors the verbose_json response body.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// buildParams converts a Request into SDK params. text, srt and vtt are
// requested as json since only the text is consumed.
func (p *Provider) buildParams(req stt.Request) oai.AudioTranscriptionNewParams {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(req.Audio, req.FilenameOrDefault(), "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Segments || req.ResponseFormat == stt.FormatVerboseJSON {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = param.NewOpt(req.Prompt)
	}
	params.Temperature = param.NewOpt(req.Temperature)
	return params
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("openai: transcribe: no audio")
	}
	params := p.buildParams(req)
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcribe: %w", err)
	}

	res := &stt.Result{Text: strings.TrimSpace(resp.Text), Language: req.Language}
	if params.ResponseFormat == oai.AudioResponseFormatVerboseJSON {
		if err := parseVerbose(resp.RawJSON(), res); err != nil {
			return nil, fmt.Errorf("openai: transcribe: %w", err)
		}
	}
	return res, nil
}

func parseVerbose(raw string, res *stt.Result) error {
	var v verboseTranscription
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("parse verbose response: %w", err)
	}
	if v.Language != "" {
		res.Language = v.Language
	}
	res.Duration = seconds(v.Duration)
	for _, s := range v.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return nil
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
