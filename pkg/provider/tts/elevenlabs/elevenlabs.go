// Package elevenlabs synthesizes replies through the ElevenLabs stream-input
// WebSocket API. A reply is sent whole and flushed; the audio frames that
// come back are joined into one payload.
package elevenlabs

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultAPIBase   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultVoice     = "21m00Tcm4TlvDq8ikWAM"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the voice used when a request names none.
func WithVoice(id string) Option {
	return func(p *Provider) {
		p.voice = id
	}
}

// WithBaseURLs overrides the WebSocket and REST API roots.
func WithBaseURLs(wsBase, apiBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.apiBase = strings.TrimRight(apiBase, "/")
	}
}

// WithHTTPClient sets the client used for the voices endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	voice        string
	wsBase       string
	apiBase      string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voice:        defaultVoice,
		wsBase:       defaultWSBase,
		apiBase:      defaultAPIBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// streamMessage is every client message of the stream-input protocol. The
// first carries the key and voice settings, then comes the text with a
// flush, then an empty text that ends the input.
type streamMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// frame is one server message. Audio is base64.
type frame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
}

// Synthesize sends the whole reply over one stream-input session and
// gathers audio frames until the server marks the stream final. PCM output
// formats yield headerless 16-bit samples with [tts.Audio.SampleRate] set.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("elevenlabs: empty text")
	}
	voice := cmp.Or(req.Voice, p.voice)

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(16 << 20)

	script := []streamMessage{
		{
			Text:          " ",
			XiAPIKey:      p.apiKey,
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: speedFor(req.Speed)},
		},
		{Text: text + " ", Flush: true},
		{},
	}
	for _, m := range script {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	format, rate := parseOutputFormat(p.outputFormat)
	return &tts.Audio{Data: pcm, Format: format, SampleRate: rate}, nil
}

// collect reads frames until one is final. A normal close after some audio
// also ends the stream.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var out bytes.Buffer
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && out.Len() > 0 {
				return out.Bytes(), nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if f.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server: %s", f.Error)
		}
		if f.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(f.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			out.Write(chunk)
		}
		if f.IsFinal {
			return out.Bytes(), nil
		}
	}
}

// speedFor maps a request speed onto the range ElevenLabs accepts.
func speedFor(s float64) float64 {
	if s == 0 {
		return 0
	}
	return min(max(s, 0.7), 1.2)
}

// ListVoices returns the voices of the account behind the API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	return parseVoices(data)
}

func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.wsBase, voiceID, p.model, p.outputFormat)
}

// parseOutputFormat splits an ElevenLabs format name such as "pcm_16000" or
// "mp3_44100_128" into a container name and, for PCM, its sample rate.
func parseOutputFormat(f string) (string, int) {
	parts := strings.Split(f, "_")
	switch parts[0] {
	case "pcm":
		rate := 16000
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				rate = n
			}
		}
		return tts.FormatPCM, rate
	case "ulaw":
		return "ulaw", 8000
	default:
		return parts[0], 0
	}
}

// parseVoices converts a /v1/voices document. Labels become metadata, plus
// the category when there is one.
func parseVoices(data []byte) ([]tts.Voice, error) {
	var doc struct {
		Voices []struct {
			VoiceID  string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	out := make([]tts.Voice, 0, len(doc.Voices))
	for _, v := range doc.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.Voice{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
