// Package coqui renders replies on a self-hosted Coqui TTS server.
//
// Two server flavours are understood. The standard server
// (ghcr.io/coqui-ai/tts-cpu) synthesizes on GET /api/tts and lists speakers
// on GET /details. The XTTS v2 API server synthesizes on POST /tts_to_audio/
// and lists studio speakers on GET /studio_speakers. Both answer with a WAV
// file, which is passed on untouched.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

const defaultTimeout = 30 * time.Second

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithTimeout bounds each HTTP request. Default 30 s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// WithAPIMode selects the server flavour. Default [APIModeStandard].
func WithAPIMode(m APIMode) Option { return func(p *Provider) { p.mode = m } }

// Provider talks to one Coqui server.
type Provider struct {
	base     string
	language string
	mode     APIMode
	client   *http.Client
}

// New returns a Provider for the server rooted at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		base:     strings.TrimRight(serverURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// Synthesize returns the server's WAV for req.Text. req.Format is ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("coqui: empty text")
	}
	httpReq, err := p.synthesisRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	body, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}
	if len(body) < 12 || string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		return nil, errors.New("coqui: response is not a WAV file")
	}
	return &tts.Audio{Data: body, Format: tts.FormatWAV}, nil
}

func (p *Provider) synthesisRequest(ctx context.Context, req tts.Request) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		body, err := json.Marshal(struct {
			Text       string  `json:"text"`
			SpeakerWav string  `json:"speaker_wav"`
			Language   string  `json:"language"`
			Speed      float64 `json:"speed,omitempty"`
		}{req.Text, req.Voice, p.language, req.Speed})
		if err != nil {
			return nil, err
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/tts_to_audio/", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}

	q := url.Values{"text": {req.Text}}
	if req.Voice != "" {
		q.Set("speaker_id", req.Voice)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/api/tts?"+q.Encode(), nil)
}

// ListVoices returns the studio speakers (XTTS), the speakers of a
// multi-speaker model, or one voice named after a single-speaker model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if p.mode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.getJSON(ctx, "/studio_speakers", &speakers); err != nil {
			return nil, err
		}
		return voices(slices.Sorted(maps.Keys(speakers)), map[string]string{"type": "studio"}), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, "/details", &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		names := slices.Sorted(slices.Values(details.Speakers))
		return voices(names, map[string]string{"type": "speaker", "model_name": details.ModelName}), nil
	}
	name := cmp.Or(details.ModelName, "default")
	return voices([]string{name}, map[string]string{"type": "single-speaker", "model_name": name}), nil
}

func voices(names []string, meta map[string]string) []tts.Voice {
	out := make([]tts.Voice, len(names))
	for i, n := range names {
		out[i] = tts.Voice{ID: n, Name: n, Provider: "coqui", Metadata: maps.Clone(meta)}
	}
	return out
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return body, nil
}
