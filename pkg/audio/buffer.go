// Package audio holds the sample buffer type shared by capture, VAD,
// transcription, synthesis and playback, together with the conversion,
// level and WAV helpers that operate on it.
//
// Samples are float32 in the range [-1, 1]. Multi-channel buffers are
// interleaved. Producers resample before handing a buffer to a consumer;
// nothing downstream silently converts rates.
package audio

import (
	"fmt"
	"time"
)

// Buffer is a block of PCM samples at a fixed rate and channel count.
type Buffer struct {
	// Samples are interleaved float32 values in [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for transcription, 44100 or 48000 for playback).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// NewBuffer returns a mono Buffer wrapping samples.
func NewBuffer(samples []float32, sampleRate int) Buffer {
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

// Empty reports whether b carries no samples.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(b.Samples) / ch
}

// Duration returns the playing time of b. A zero sample rate yields 0.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Slice returns the frames in [from, to) as a new Buffer sharing storage
// with b. Out-of-range bounds are clamped.
func (b Buffer) Slice(from, to int) Buffer {
	ch := max(b.Channels, 1)
	n := b.Frames()
	from = min(max(from, 0), n)
	to = min(max(to, from), n)
	return Buffer{Samples: b.Samples[from*ch : to*ch], SampleRate: b.SampleRate, Channels: b.Channels}
}

// Append returns b with the samples of other added at the end. It returns an
// error when the formats differ.
func (b Buffer) Append(other Buffer) (Buffer, error) {
	if b.Empty() && b.SampleRate == 0 {
		return Buffer{Samples: append([]float32(nil), other.Samples...), SampleRate: other.SampleRate, Channels: other.Channels}, nil
	}
	if other.SampleRate != b.SampleRate || other.Channels != b.Channels {
		return b, fmt.Errorf("audio: append %s to %s: format mismatch",
			formatString(other.SampleRate, other.Channels), formatString(b.SampleRate, b.Channels))
	}
	b.Samples = append(b.Samples, other.Samples...)
	return b, nil
}

// Concat joins bufs in order. All buffers must share rate and channel count.
func Concat(bufs ...Buffer) (Buffer, error) {
	var out Buffer
	var err error
	for _, b := range bufs {
		if out, err = out.Append(b); err != nil {
			return Buffer{}, err
		}
	}
	return out, nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
