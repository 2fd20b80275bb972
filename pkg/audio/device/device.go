// Package device opens PortAudio input and output streams for the capture and
// playback layers and picks devices by name.
//
// Initialize must be called once before opening any stream and Terminate
// once all streams are closed.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// Info describes an audio device.
type Info struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
}

// Initialize initialises the PortAudio library.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("device: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("device: terminate: %w", err)
	}
	return nil
}

// List returns all devices known to PortAudio.
func List() ([]Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]Info, 0, len(devs))
	for i, d := range devs {
		out = append(out, Info{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefaultInput:    defIn != nil && d.Name == defIn.Name,
			IsDefaultOutput:   defOut != nil && d.Name == defOut.Name,
		})
	}
	return out, nil
}

// Direction selects input or output capability when choosing a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) channels(i Info) int {
	if d == Input {
		return i.MaxInputChannels
	}
	return i.MaxOutputChannels
}

// Select chooses a device for dir. An explicit name must match exactly or
// by substring. Without one, the first device whose name contains loopback
// is preferred. ok is false when the system default should be used; that is
// logged as a warning, never returned as an error.
func Select(devs []Info, dir Direction, name, loopback string) (Info, bool) {
	want := name
	if want == "" {
		want = loopback
	}
	if want != "" {
		for _, d := range devs {
			if dir.channels(d) > 0 && d.Name == want {
				return d, true
			}
		}
		lower := strings.ToLower(want)
		for _, d := range devs {
			if dir.channels(d) > 0 && strings.Contains(strings.ToLower(d.Name), lower) {
				return d, true
			}
		}
	}
	slog.Warn("audio device not found, using system default", "wanted", want, "direction", dir.String())
	return Info{}, false
}

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Config configures a stream.
type Config struct {
	// Name is the explicit device name. Empty selects by Loopback.
	Name string

	// Loopback is the substring of the preferred virtual loopback device.
	Loopback string

	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func lookup(dir Direction, cfg Config) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	infos := make([]Info, len(devs))
	for i, d := range devs {
		infos[i] = Info{Index: i, Name: d.Name, MaxInputChannels: d.MaxInputChannels, MaxOutputChannels: d.MaxOutputChannels}
	}
	if chosen, ok := Select(infos, dir, cfg.Name, cfg.Loopback); ok {
		return devs[chosen.Index], nil
	}
	if dir == Input {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

// InputStream delivers mono float32 blocks from an input device.
type InputStream struct {
	cfg    Config
	name   string
	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInput returns an unopened InputStream for cfg. Channels is forced to 1.
func NewInput(cfg Config) *InputStream {
	cfg.Channels = 1
	return &InputStream{cfg: cfg}
}

// Name returns the name of the opened device, or "" before Start.
func (s *InputStream) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SampleRate implements capture.Device.
func (s *InputStream) SampleRate() int { return s.cfg.SampleRate }

// Start opens the device and calls onBlock from a dedicated goroutine for
// every block read until Stop is called.
func (s *InputStream) Start(onBlock func(audio.Buffer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("device: input already started")
	}

	dev, err := lookup(Input, s.cfg)
	if err != nil {
		return err
	}
	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = s.cfg.FramesPerBuffer

	block := make([]float32, s.cfg.FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, block)
	if err != nil {
		return fmt.Errorf("device: open input %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("device: start input %q: %w", dev.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stream, s.cancel, s.done, s.name = stream, cancel, make(chan struct{}), dev.Name
	go func(done chan struct{}) {
		defer close(done)
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if ctx.Err() == nil {
					slog.Debug("audio input read error", "device", dev.Name, "err", err)
				}
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				return
			}
			onBlock(audio.NewBuffer(append([]float32(nil), block...), s.cfg.SampleRate))
		}
	}(s.done)
	return nil
}

// Stop halts the stream and waits for the reader goroutine. Safe to call
// when not started.
func (s *InputStream) Stop() error {
	s.mu.Lock()
	stream, cancel, done := s.stream, s.cancel, s.done
	s.stream, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	cancel()
	err := stream.Stop()
	<-done
	return errors.Join(err, stream.Close())
}

// OutputStream writes float32 buffers to an output device.
type OutputStream struct {
	cfg    Config
	mu     sync.Mutex
	stream *portaudio.Stream
	block  []float32
	name   string
}

// OpenOutput opens and starts an output stream.
func OpenOutput(cfg Config) (*OutputStream, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	dev, err := lookup(Output, cfg)
	if err != nil {
		return nil, err
	}
	channels := min(cfg.Channels, max(dev.MaxOutputChannels, 1))
	cfg.Channels = channels

	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	block := make([]float32, cfg.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, block)
	if err != nil {
		return nil, fmt.Errorf("device: open output %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start output %q: %w", dev.Name, err)
	}
	return &OutputStream{cfg: cfg, stream: stream, block: block, name: dev.Name}, nil
}

// Name returns the device name.
func (o *OutputStream) Name() string { return o.name }

// SampleRate implements playback.Sink.
func (o *OutputStream) SampleRate() int { return o.cfg.SampleRate }

// Channels implements playback.Sink.
func (o *OutputStream) Channels() int { return o.cfg.Channels }

// Write plays buf, which must already be at the stream's rate and channel
// count. It returns when the last block has been handed to the device or ctx
// is cancelled.
func (o *OutputStream) Write(ctx context.Context, buf audio.Buffer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return errors.New("device: output closed")
	}
	for off := 0; off < len(buf.Samples); off += len(o.block) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(o.block, buf.Samples[off:])
		clear(o.block[n:])
		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("device: write: %w", err)
		}
	}
	return nil
}

// Close stops and closes the stream.
func (o *OutputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	err := errors.Join(o.stream.Stop(), o.stream.Close())
	o.stream = nil
	return err
}
