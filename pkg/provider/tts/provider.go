// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs,
// a local Coqui server) and turns one piece of text into one encoded audio
// payload. Splitting long replies and normalising the output container is the
// caller's job.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"
)

// Output formats a provider may be asked for.
const (
	FormatMP3  = "mp3"
	FormatOpus = "opus"
	FormatAAC  = "aac"
	FormatFLAC = "flac"
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
)

// Speed bounds accepted by [ClampSpeed].
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// ValidFormat reports whether f is one of the known output formats.
func ValidFormat(f string) bool {
	switch strings.ToLower(f) {
	case FormatMP3, FormatOpus, FormatAAC, FormatFLAC, FormatWAV, FormatPCM:
		return true
	}
	return false
}

// ClampSpeed limits s to [MinSpeed, MaxSpeed]. Zero means 1.0.
func ClampSpeed(s float64) float64 {
	switch {
	case s == 0:
		return 1.0
	case s < MinSpeed:
		return MinSpeed
	case s > MaxSpeed:
		return MaxSpeed
	}
	return s
}

// Request is a single synthesis call.
type Request struct {
	// Text to speak. Providers may reject text longer than their per-request
	// limit.
	Text string

	// Voice is the provider-specific voice identifier.
	Voice string

	// Format is the requested output format (see the Format constants).
	// Providers that cannot honour it return the closest format they support and
	// report it in [Audio.Format].
	Format string

	// Speed is the speaking-rate multiplier. Zero leaves the provider default.
	Speed float64
}

// Audio is the encoded result of a synthesis call.
type Audio struct {
	// Data holds the encoded bytes.
	Data []byte

	// Format is the container or encoding of Data.
	Format string

	// SampleRate is set for headerless PCM output. Zero otherwise.
	SampleRate int
}

// Voice describes a voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier passed in [Request.Voice].
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which backend offers the voice.
	Provider string

	// Metadata holds provider-specific attributes (gender, accent, language).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text to speech and returns the encoded audio.
	// Returns an error if the backend is unreachable, rejects the request or
	// ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}
