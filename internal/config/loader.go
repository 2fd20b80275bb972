package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"openai", "deepgram", "whisper", "whisper-native"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"openai", "elevenlabs", "coqui"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// Defaults.
const (
	DefaultListenAddr       = ":9090"
	DefaultSampleRate       = 16000
	DefaultBufferSize       = 1024
	DefaultLoopbackName     = "BlackHole"
	DefaultOutputSampleRate = 44100
	DefaultOutputChannels   = 2
	DefaultAgentName        = "AI Assistant"
	DefaultDevToolsURL      = "http://127.0.0.1:9222"
	DefaultEmbeddingDims    = 1536
	DefaultRecall           = 3
	DefaultRecordingsDir    = "recordings"
)

// Load reads the YAML configuration file at path, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. ${VAR} references are
// expanded from the environment before decoding. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	orDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	orDefault(&cfg.Server.LogLevel, LogInfo)

	a := &cfg.Audio
	orDefault(&a.SampleRate, DefaultSampleRate)
	orDefault(&a.BufferSize, DefaultBufferSize)
	orDefault(&a.LoopbackName, DefaultLoopbackName)
	orDefault(&a.OutputSampleRate, DefaultOutputSampleRate)
	orDefault(&a.OutputChannels, DefaultOutputChannels)

	v := &cfg.VAD
	orDefault(&v.Name, "energy")
	if v.Aggressiveness == nil {
		v.Aggressiveness = ptr(2)
	}
	orDefault(&v.FrameMs, 30)
	orDefault(&v.SpeechThreshold, 5)
	orDefault(&v.SilenceThreshold, 10)

	ag := &cfg.Agent
	orDefault(&ag.Name, DefaultAgentName)
	orDefault(&ag.ResponseDelay, 500*time.Millisecond)
	orDefault(&ag.HistoryCap, 50)
	orDefault(&ag.ContextWindow, 6)
	orDefault(&ag.SessionTimeout, 300*time.Second)
	orDefault(&ag.GuardDuration, 5*time.Second)
	orDefault(&ag.GuardMargin, time.Second)
	orDefault(&ag.TrailingBuffer, 5*time.Second)
	orDefault(&ag.TargetRMS, 0.1)
	orDefault(&ag.Language, "en")
	orDefault(&ag.MaxTokens, 1000)
	if ag.ReplyTemperature == nil {
		ag.ReplyTemperature = ptr(0.7)
	}
	orDefault(&ag.Voice, "alloy")
	orDefault(&ag.Speed, 1.0)
	orDefault(&ag.TTSFormat, "mp3")
	if ag.MultiChunk == nil {
		ag.MultiChunk = ptr(true)
	}
	if ag.Announce == nil {
		ag.Announce = ptr(true)
	}

	m := &cfg.Meeting
	orDefault(&m.Controller, ControllerCDP)
	orDefault(&m.DevToolsURL, DefaultDevToolsURL)
	if m.KeepMicOn == nil {
		m.KeepMicOn = ptr(true)
	}
	orDefault(&m.MicCheckInterval, 30*time.Second)
	orDefault(&m.StatusInterval, time.Minute)

	orDefault(&cfg.Transcript.EmbeddingDimensions, DefaultEmbeddingDims)
	orDefault(&cfg.Transcript.Recall, DefaultRecall)
	orDefault(&cfg.Recordings.Dir, DefaultRecordingsDir)
}

func ptr[T any](v T) *T { return &v }

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		kind, entry := p.kind, p.entry
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, fb.Name)
			if len(fb.Fallbacks) > 0 {
				slog.Warn("nested provider fallbacks are ignored", "kind", kind, "name", fb.Name)
			}
		}
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.VAD.Name)

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size must be positive, got %d", cfg.Audio.BufferSize))
	}
	if cfg.Audio.OutputChannels < 1 || cfg.Audio.OutputChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.output_channels must be 1 or 2, got %d", cfg.Audio.OutputChannels))
	}

	if a := cfg.VAD.Aggressiveness; a != nil && (*a < 0 || *a > 3) {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", *a))
	}
	if f := cfg.VAD.FrameMs; f != 10 && f != 20 && f != 30 {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d is invalid; valid values: 10, 20, 30", f))
	}
	if cfg.VAD.SpeechThreshold < 1 || cfg.VAD.SilenceThreshold < 1 {
		errs = append(errs, errors.New("vad.speech_threshold and vad.silence_threshold must be at least 1"))
	}

	ag := cfg.Agent
	if ag.Speed < 0.25 || ag.Speed > 4.0 {
		errs = append(errs, fmt.Errorf("agent.speed %.2f is out of range [0.25, 4.0]", ag.Speed))
	}
	if ag.Temperature < 0 || ag.Temperature > 1 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 1]", ag.Temperature))
	}
	if rt := ag.ReplyTemperature; rt != nil && (*rt < 0 || *rt > 2) {
		errs = append(errs, fmt.Errorf("agent.reply_temperature %.2f is out of range [0, 2]", *rt))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"response_delay", ag.ResponseDelay},
		{"session_timeout", ag.SessionTimeout},
		{"guard_duration", ag.GuardDuration},
		{"guard_margin", ag.GuardMargin},
		{"trailing_buffer", ag.TrailingBuffer},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("agent.%s must not be negative, got %s", f.name, f.d))
		}
	}
	if ag.ContextWindow > ag.HistoryCap {
		slog.Warn("agent.context_window exceeds agent.history_cap; only history_cap messages are kept",
			"context_window", ag.ContextWindow, "history_cap", ag.HistoryCap)
	}

	switch cfg.Meeting.Controller {
	case ControllerCDP:
		if cfg.Meeting.DevToolsURL == "" {
			errs = append(errs, errors.New("meeting.devtools_url is required when meeting.controller is cdp"))
		}
		if cfg.Meeting.URL == "" {
			slog.Warn("meeting.url is empty; the agent will not join a meeting")
		}
	case ControllerNone:
	default:
		errs = append(errs, fmt.Errorf("meeting.controller %q is invalid; valid values: cdp, none", cfg.Meeting.Controller))
	}

	if cfg.Transcript.PostgresDSN != "" && cfg.Transcript.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("transcript.embedding_dimensions must be positive, got %d", cfg.Transcript.EmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name == "" && cfg.Transcript.Recall > 0 {
		slog.Debug("no embeddings provider configured; transcript recall uses text matching")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
