// Package transcribe turns captured utterances into text through an
// [stt.Provider].
//
// Every failure on the turn path (empty buffer, temp file trouble, backend
// error) yields an empty string and a log line. Callers cannot and need not
// tell "no speech" from "service down".
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

// DefaultHintWords caps the decoding hint.
const DefaultHintWords = 30

// SegmentTemperature is used for TranscribeWithSegments.
const SegmentTemperature = 0.1

// Config tunes a Transcriber.
type Config struct {
	// Provider names the backend in metrics and logs.
	Provider string

	// Language is an ISO-639-1 code. Empty lets the backend detect it.
	Language string

	Temperature float64

	// ResponseFormat is one of the stt.Format* values. Unknown values fall
	// back to json.
	ResponseFormat string

	// HintWords caps the hint passed with each request.
	HintWords int

	// TempDir holds the per-request WAV files. Empty uses os.TempDir.
	TempDir string

	Metrics *observe.Metrics
}

// Transcriber is safe for concurrent use.
type Transcriber struct {
	stt stt.Provider
	cfg Config
}

// New returns a Transcriber over p.
func New(p stt.Provider, cfg Config) *Transcriber {
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = stt.FormatJSON
	}
	if !stt.ValidResponseFormat(cfg.ResponseFormat) {
		slog.Warn("transcribe: unknown response format, using json", "format", cfg.ResponseFormat)
		cfg.ResponseFormat = stt.FormatJSON
	}
	if cfg.HintWords <= 0 {
		cfg.HintWords = DefaultHintWords
	}
	if cfg.Provider == "" {
		cfg.Provider = "stt"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Transcriber{stt: p, cfg: cfg}
}

// Transcribe returns the trimmed text spoken in buf, or "" when nothing was
// recognised or the request failed. hint is recent conversation text; only
// its last HintWords words are sent.
func (t *Transcriber) Transcribe(ctx context.Context, buf audio.Buffer, hint string) string {
	res, ok := t.run(ctx, buf, stt.Request{
		Prompt:         TrimHint(hint, t.cfg.HintWords),
		Temperature:    t.cfg.Temperature,
		ResponseFormat: t.cfg.ResponseFormat,
	})
	if !ok {
		return ""
	}
	return strings.TrimSpace(res.Text)
}

// TranscribeWithSegments requests verbose output with per-segment timing.
// It reports false when the request failed or buf was empty.
func (t *Transcriber) TranscribeWithSegments(ctx context.Context, buf audio.Buffer) (*stt.Result, bool) {
	res, ok := t.run(ctx, buf, stt.Request{
		Temperature:    SegmentTemperature,
		ResponseFormat: stt.FormatVerboseJSON,
		Segments:       true,
	})
	if ok {
		res.Text = strings.TrimSpace(res.Text)
	}
	return res, ok
}

func (t *Transcriber) run(ctx context.Context, buf audio.Buffer, req stt.Request) (*stt.Result, bool) {
	if buf.Empty() {
		return nil, false
	}
	log := observe.Logger(ctx)

	f, err := os.CreateTemp(t.cfg.TempDir, "utterance-*.wav")
	if err != nil {
		log.Error("transcribe: create temp file", "err", err)
		return nil, false
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := audio.EncodeWAV(f, buf); err != nil {
		log.Error("transcribe: write wav", "err", err)
		return nil, false
	}
	if _, err := f.Seek(0, 0); err != nil {
		log.Error("transcribe: rewind wav", "err", err)
		return nil, false
	}

	req.Audio = f
	req.Filename = "audio.wav"
	req.SampleRate = buf.SampleRate
	req.Language = t.cfg.Language

	start := time.Now()
	res, err := t.stt.Transcribe(ctx, req)
	elapsed := time.Since(start)
	t.cfg.Metrics.ObserveCall(ctx, observe.KindSTT, t.cfg.Provider, elapsed, err)
	if err != nil {
		log.Error("transcribe: request failed", "provider", t.cfg.Provider, "err", err)
		return nil, false
	}
	log.Debug("transcribe: done",
		"audio", buf.Duration(),
		"chars", len(res.Text),
		"duration", elapsed)
	return res, true
}

// TestConnection transcribes one second of silence. A nil error means the
// backend accepted the request; an empty transcript is expected.
func (t *Transcriber) TestConnection(ctx context.Context) error {
	f, err := os.CreateTemp(t.cfg.TempDir, "probe-*.wav")
	if err != nil {
		return fmt.Errorf("transcribe: test connection: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if err := audio.EncodeWAV(f, audio.Silence(16000, time.Second)); err != nil {
		return fmt.Errorf("transcribe: test connection: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("transcribe: test connection: %w", err)
	}
	if _, err := t.stt.Transcribe(ctx, stt.Request{
		Audio:          f,
		SampleRate:     16000,
		Language:       t.cfg.Language,
		ResponseFormat: stt.FormatJSON,
	}); err != nil {
		return fmt.Errorf("transcribe: test connection: %w", err)
	}
	return nil
}

// TrimHint keeps the last maxWords words of text.
func TrimHint(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords > 0 && len(words) > maxWords {
		words = words[len(words)-maxWords:]
	}
	return strings.Join(words, " ")
}

var languages = []string{
	"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr", "pl", "ca", "nl",
	"ar", "sv", "it", "id", "hi", "fi", "vi", "he", "uk", "el", "ms", "cs", "ro",
	"da", "hu", "ta", "no", "th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy",
	"sk", "te", "fa", "lv", "bn", "sr", "az", "sl", "kn", "et", "mk", "br", "eu",
	"is", "hy", "ne", "mn", "bs", "kk", "sq", "sw", "gl", "mr", "pa", "si", "km",
	"sn", "yo", "so", "af", "oc", "ka", "be", "tg", "sd", "gu", "am", "yi", "lo",
	"uz", "fo", "ht", "ps", "tk", "nn", "mt", "sa", "lb", "my", "bo", "tl", "mg",
	"as", "tt", "haw", "ln", "ha", "ba", "jw", "su",
}

// SupportedLanguages lists the language codes Whisper models accept.
func SupportedLanguages() []string { return slices.Clone(languages) }

// Supported reports whether lang is in SupportedLanguages.
func Supported(lang string) bool { return slices.Contains(languages, lang) }
