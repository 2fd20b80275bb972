// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider takes one finished utterance as a WAV container and returns its
// transcription. Backends range from hosted APIs (OpenAI, Azure OpenAI,
// Deepgram) to a local whisper.cpp server or the whisper.cpp bindings.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
	"slices"
	"time"
)

// Response formats understood by OpenAI-compatible transcription endpoints.
const (
	FormatText        = "text"
	FormatJSON        = "json"
	FormatSRT         = "srt"
	FormatVerboseJSON = "verbose_json"
	FormatVTT         = "vtt"
)

var responseFormats = []string{FormatText, FormatJSON, FormatSRT, FormatVerboseJSON, FormatVTT}

// ValidResponseFormat reports whether f is a known response format.
func ValidResponseFormat(f string) bool { return slices.Contains(responseFormats, f) }

// Request is one transcription job.
type Request struct {
	// Audio is a WAV container holding the utterance.
	Audio io.Reader

	// Filename is the name reported to multipart endpoints. Defaults to
	// "audio.wav".
	Filename string

	// SampleRate of the audio, in Hz.
	SampleRate int

	// Language is an ISO-639-1 code such as "en". Empty lets the backend
	// detect it.
	Language string

	// Prompt is a decoding hint: recent conversation text that biases
	// recognition toward in-context vocabulary.
	Prompt string

	// Keywords are proper nouns to boost on backends that support keyword
	// boosting rather than prompts.
	Keywords []string

	// Temperature is the sampling temperature. Zero is near-deterministic.
	Temperature float64

	// ResponseFormat selects the backend output format. Backends that do not
	// support formats ignore it.
	ResponseFormat string

	// Segments requests per-segment timing when the backend supports it.
	Segments bool
}

// Segment is a timed piece of a transcription.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Result is a transcription outcome.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []Segment
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the audio in req to text. An empty Text with a nil
	// error means no speech was recognised.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// FilenameOrDefault returns Filename or "audio.wav".
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return "audio.wav"
	}
	return r.Filename
}
