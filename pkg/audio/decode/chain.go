package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// Method names the step of the [Chain] that produced a result.
type Method string

const (
	MethodNative    Method = "native"
	MethodAfconvert Method = "afconvert"
	MethodFFmpeg    Method = "ffmpeg"
	MethodRaw       Method = "raw"
)

// Default canonical output format.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
)

// Result describes how a conversion was satisfied.
type Result struct {
	// Path is the file that holds the converted audio. For [MethodRaw] it is
	// the undecoded input saved under its original extension.
	Path string

	// Method is the chain step that succeeded.
	Method Method

	// Degraded is true when the audio could not be converted and the
	// original bytes were kept as-is.
	Degraded bool
}

// CommandFunc runs an external program and returns its error.
type CommandFunc func(ctx context.Context, name string, args ...string) error

// Chain converts encoded audio into a canonical 16-bit WAV by trying the
// native decoders, then afconvert, then ffmpeg, and finally keeping the raw
// bytes. It is safe for concurrent use.
type Chain struct {
	sampleRate int
	channels   int
	native     bool
	converters []Method
	run        CommandFunc
	lookPath   func(string) (string, error)
}

// Option configures a [Chain].
type Option func(*Chain)

// WithSampleRate sets the output sample rate. Defaults to 44100.
func WithSampleRate(rate int) Option {
	return func(c *Chain) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithChannels sets the output channel count. Defaults to 1.
func WithChannels(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.channels = n
		}
	}
}

// WithNative toggles the in-process decoders. Enabled by default.
func WithNative(enabled bool) Option {
	return func(c *Chain) {
		c.native = enabled
	}
}

// WithConverters sets the external converters to try, in order. The default
// is afconvert followed by ffmpeg.
func WithConverters(methods ...Method) Option {
	return func(c *Chain) {
		c.converters = methods
	}
}

// WithCommand replaces the function used to run external converters.
func WithCommand(fn CommandFunc) Option {
	return func(c *Chain) {
		c.run = fn
	}
}

// WithLookPath replaces the function used to locate converter binaries.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Chain) {
		c.lookPath = fn
	}
}

// NewChain returns a Chain with the given options applied.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		sampleRate: DefaultSampleRate,
		channels:   DefaultChannels,
		native:     true,
		converters: []Method{MethodAfconvert, MethodFFmpeg},
		run:        runCommand,
		lookPath:   exec.LookPath,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SampleRate returns the output sample rate.
func (c *Chain) SampleRate() int { return c.sampleRate }

// Channels returns the output channel count.
func (c *Chain) Channels() int { return c.channels }

// WriteBuffer converts buf to the canonical rate and channel count and
// writes it to dst as WAV.
func (c *Chain) WriteBuffer(dst string, buf audio.Buffer) (Result, error) {
	if err := audio.WriteWAV(dst, audio.Convert(buf, c.sampleRate, c.channels)); err != nil {
		return Result{}, fmt.Errorf("decode: write buffer: %w", err)
	}
	return Result{Path: dst, Method: MethodNative}, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ToWAV converts data, encoded as format, into a WAV file at dst. The
// returned error is non-nil only when even the raw fallback cannot be
// written.
func (c *Chain) ToWAV(ctx context.Context, data []byte, format, dst string) (Result, error) {
	format = strings.ToLower(format)
	if c.native {
		err := c.nativeToWAV(data, format, dst)
		if err == nil {
			return Result{Path: dst, Method: MethodNative}, nil
		}
		slog.Debug("native decode failed, trying external converters", "format", format, "err", err)
	}

	src := dst + ".src." + format
	if err := os.WriteFile(src, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("decode: write source: %w", err)
	}

	for _, m := range c.converters {
		if err := c.convert(ctx, m, src, dst); err != nil {
			slog.Debug("audio converter failed", "converter", m, "err", err)
			continue
		}
		_ = os.Remove(src)
		return Result{Path: dst, Method: m}, nil
	}

	raw := strings.TrimSuffix(dst, ".wav") + "." + format
	if err := os.Rename(src, raw); err != nil {
		_ = os.Remove(src)
		return Result{}, fmt.Errorf("decode: keep raw audio: %w", err)
	}
	slog.Warn("no audio converter succeeded; keeping original encoding, playback quality may be degraded",
		"format", format,
		"path", raw,
	)
	return Result{Path: raw, Method: MethodRaw, Degraded: true}, nil
}

func (c *Chain) nativeToWAV(data []byte, format, dst string) error {
	buf, err := Bytes(data, format)
	if err != nil {
		return err
	}
	return audio.WriteWAV(dst, audio.Convert(buf, c.sampleRate, c.channels))
}

func (c *Chain) convert(ctx context.Context, m Method, src, dst string) error {
	var name string
	var args []string
	rate := strconv.Itoa(c.sampleRate)
	ch := strconv.Itoa(c.channels)
	switch m {
	case MethodAfconvert:
		name = "afconvert"
		args = []string{"-f", "WAVE", "-d", "LEI16@" + rate, "-c", ch, src, dst}
	case MethodFFmpeg:
		name = "ffmpeg"
		args = []string{"-loglevel", "error", "-i", src, "-acodec", "pcm_s16le", "-ar", rate, "-ac", ch, "-y", dst}
	default:
		return fmt.Errorf("decode: unknown converter %q", m)
	}
	if _, err := c.lookPath(name); err != nil {
		return fmt.Errorf("decode: %s not found: %w", name, err)
	}
	if err := c.run(ctx, name, args...); err != nil {
		return err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("decode: %s produced no output: %w", name, err)
	}
	if info.Size() == 0 {
		return errors.New("decode: " + name + " produced an empty file")
	}
	return nil
}

// Load reads the audio file at path into a buffer. Formats the native
// decoders cannot read are converted to a temporary WAV first. When nothing
// can decode the file its bytes are read as raw 16-bit PCM at the chain's
// sample rate and the result is flagged degraded.
func (c *Chain) Load(ctx context.Context, path string) (audio.Buffer, Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Buffer{}, Result{}, fmt.Errorf("decode: read %q: %w", path, err)
	}
	format := FormatFromPath(path)

	if c.native {
		if buf, err := Bytes(data, format); err == nil {
			return buf, Result{Path: path, Method: MethodNative}, nil
		}
	}

	tmp, err := os.CreateTemp("", "meetagent-decode-*.wav")
	if err != nil {
		return audio.Buffer{}, Result{}, fmt.Errorf("decode: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	for _, m := range c.converters {
		if err := c.convert(ctx, m, path, tmpPath); err != nil {
			slog.Debug("audio converter failed", "converter", m, "err", err)
			continue
		}
		buf, err := audio.ReadWAV(tmpPath)
		if err != nil {
			continue
		}
		return buf, Result{Path: path, Method: m}, nil
	}

	slog.Warn("could not decode audio file; reading it as raw PCM, quality will be degraded", "path", path)
	return audio.NewBuffer(audio.PCM16ToFloat32(data), c.sampleRate),
		Result{Path: path, Method: MethodRaw, Degraded: true}, nil
}
