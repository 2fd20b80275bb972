package playback

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// FakeSink records written buffers. When Realtime is set Write sleeps for
// the buffer duration, honouring ctx.
type FakeSink struct {
	Rate     int
	Chans    int
	Realtime bool
	Err      error

	mu      sync.Mutex
	written []audio.Buffer
}

var _ Sink = (*FakeSink)(nil)

// Write implements Sink.
func (f *FakeSink) Write(ctx context.Context, buf audio.Buffer) error {
	if f.Err != nil {
		return f.Err
	}
	if f.Realtime {
		select {
		case <-time.After(buf.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.written = append(f.written, buf)
	f.mu.Unlock()
	return nil
}

// SampleRate implements Sink.
func (f *FakeSink) SampleRate() int {
	if f.Rate == 0 {
		return 44100
	}
	return f.Rate
}

// Channels implements Sink.
func (f *FakeSink) Channels() int {
	if f.Chans == 0 {
		return 2
	}
	return f.Chans
}

// Written returns the buffers written so far.
func (f *FakeSink) Written() []audio.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audio.Buffer(nil), f.written...)
}
