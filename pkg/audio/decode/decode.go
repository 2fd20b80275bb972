// Package decode turns encoded audio (WAV, MP3, FLAC, Ogg/Opus, raw PCM and
// anything an external converter understands) into [audio.Buffer] values or
// canonical WAV files.
//
// Native decoders run in-process. When they cannot handle a format the
// [Chain] falls back to external converters (afconvert, ffmpeg) and, as a
// last resort, keeps the undecoded bytes and reports the result as degraded.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// ErrUnsupported is returned when no native decoder handles a format.
var ErrUnsupported = errors.New("decode: unsupported format")

// DefaultPCMRate is the sample rate assumed for headerless 16-bit PCM, which
// is what hosted speech APIs return for the "pcm" response format.
const DefaultPCMRate = 24000

// FormatFromPath returns the lower-case format name implied by the file
// extension of path, e.g. "mp3" for "reply.MP3".
func FormatFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Bytes decodes data encoded as format using the in-process decoders.
// Headerless "pcm"/"raw" input is read as 16-bit little-endian mono at
// [DefaultPCMRate].
func Bytes(data []byte, format string) (audio.Buffer, error) {
	switch strings.ToLower(format) {
	case "wav", "wave":
		return audio.DecodeWAV(bytes.NewReader(data))
	case "mp3":
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("decode: mp3: %w", err)
		}
		defer s.Close()
		return audio.ReadStreamer(s, f)
	case "flac":
		s, f, err := flac.Decode(bytes.NewReader(data))
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("decode: flac: %w", err)
		}
		defer s.Close()
		return audio.ReadStreamer(s, f)
	case "opus", "ogg":
		return decodeOggOpus(data)
	case "pcm", "raw":
		return audio.NewBuffer(audio.PCM16ToFloat32(data), DefaultPCMRate), nil
	default:
		return audio.Buffer{}, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
}
