package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// streamChunk is the number of frames pulled per Stream call when draining
// a decoder.
const streamChunk = 4096

// bufferStreamer adapts a Buffer to [beep.Streamer].
type bufferStreamer struct {
	buf Buffer
	pos int
}

// Streamer returns a [beep.Streamer] over b. Buffers with more than two
// channels are downmixed to mono first.
func (b Buffer) Streamer() beep.Streamer {
	if b.Channels > 2 {
		b = Buffer{Samples: Downmix(b.Samples, b.Channels), SampleRate: b.SampleRate, Channels: 1}
	}
	return &bufferStreamer{buf: b}
}

// Format returns the beep format describing b with 16-bit precision.
func (b Buffer) Format() beep.Format {
	ch := b.Channels
	if ch < 1 || ch > 2 {
		ch = 1
	}
	return beep.Format{SampleRate: beep.SampleRate(b.SampleRate), NumChannels: ch, Precision: 2}
}

func (s *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := s.buf.Frames()
	if s.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < frames {
		if s.buf.Channels == 2 {
			samples[n][0] = float64(s.buf.Samples[s.pos*2])
			samples[n][1] = float64(s.buf.Samples[s.pos*2+1])
		} else {
			v := float64(s.buf.Samples[s.pos])
			samples[n][0], samples[n][1] = v, v
		}
		n++
		s.pos++
	}
	return n, true
}

func (s *bufferStreamer) Err() error { return nil }

// ReadStreamer drains s into a Buffer with format's rate and channel count.
func ReadStreamer(s beep.Streamer, format beep.Format) (Buffer, error) {
	ch := format.NumChannels
	if ch < 1 || ch > 2 {
		ch = 1
	}
	out := Buffer{SampleRate: int(format.SampleRate), Channels: ch}
	chunk := make([][2]float64, streamChunk)
	for {
		n, ok := s.Stream(chunk)
		for _, f := range chunk[:n] {
			if ch == 2 {
				out.Samples = append(out.Samples, float32(f[0]), float32(f[1]))
			} else {
				out.Samples = append(out.Samples, float32(f[0]))
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return Buffer{}, fmt.Errorf("audio: read stream: %w", err)
	}
	return out, nil
}

// EncodeWAV writes b to w as a 16-bit PCM WAV container.
func EncodeWAV(w io.WriteSeeker, b Buffer) error {
	if b.SampleRate <= 0 {
		return errors.New("audio: encode wav: sample rate must be positive")
	}
	if err := wav.Encode(w, b.Streamer(), b.Format()); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	return nil
}

// WriteWAV writes b to the file at path, creating or truncating it.
func WriteWAV(path string, b Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := EncodeWAV(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeWAV reads a WAV container from r.
func DecodeWAV(r io.Reader) (Buffer, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	defer s.Close()
	return ReadStreamer(s, format)
}

// ReadWAV reads the WAV file at path.
func ReadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}
