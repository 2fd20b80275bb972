// Package capture samples an input device in the background and queues the
// resulting chunks for a single consumer.
//
// The queue is unbounded. Consumers drain it with NextChunk or Buffer and may
// drop stale audio at any time with Clear.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// ErrNotRunning is returned by operations that require an active recorder.
var ErrNotRunning = errors.New("capture: not running")

// pollInterval is the granularity of Buffer's accumulation loop.
const pollInterval = 100 * time.Millisecond

// Device is an input stream that pushes blocks to a callback from its own
// goroutine.
type Device interface {
	Start(onBlock func(audio.Buffer)) error
	Stop() error
	SampleRate() int
}

// Recorder owns a Device and its chunk queue.
type Recorder struct {
	dev Device

	mu      sync.Mutex
	queue   []audio.Buffer
	notify  chan struct{}
	running bool
	pushed  uint64
}

// New returns a stopped recorder for dev.
func New(dev Device) *Recorder {
	return &Recorder{dev: dev, notify: make(chan struct{}, 1)}
}

// SampleRate returns the device sample rate.
func (r *Recorder) SampleRate() int { return r.dev.SampleRate() }

// Start opens the device. It returns false if the device could not be
// opened; the error is logged. Starting a running recorder is a no-op that
// returns true.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return true
	}
	r.running = true
	r.mu.Unlock()

	if err := r.dev.Start(r.push); err != nil {
		slog.Error("capture: failed to start device", "err", err)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return false
	}
	slog.Info("capture: recording started", "sample_rate", r.dev.SampleRate())
	return true
}

// Stop halts sampling and releases the device. It is safe to call at any
// time, any number of times.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if err := r.dev.Stop(); err != nil {
		slog.Warn("capture: failed to stop device", "err", err)
	}
	slog.Info("capture: recording stopped")
}

// IsRunning reports whether the device is sampling.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recorder) push(b audio.Buffer) {
	if b.Empty() {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, b)
	r.pushed++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) pop() (audio.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return audio.Buffer{}, false
	}
	b := r.queue[0]
	r.queue[0] = audio.Buffer{}
	r.queue = r.queue[1:]
	return b, true
}

// NextChunk pops the oldest queued chunk, waiting at most timeout. ok is
// false if nothing arrived in time or ctx was cancelled.
func (r *Recorder) NextChunk(ctx context.Context, timeout time.Duration) (audio.Buffer, bool) {
	if b, ok := r.pop(); ok {
		return b, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-r.notify:
			if b, ok := r.pop(); ok {
				return b, true
			}
		case <-timer.C:
			return r.pop()
		case <-ctx.Done():
			return audio.Buffer{}, false
		}
	}
}

// Buffer accumulates chunks until d worth of samples is collected or 2×d
// elapses, then trims to the exact sample count. ok is false if nothing was
// collected.
func (r *Recorder) Buffer(ctx context.Context, d time.Duration) (audio.Buffer, bool) {
	rate := r.dev.SampleRate()
	want := int(int64(rate) * int64(d) / int64(time.Second))
	deadline := time.Now().Add(2 * d)

	var acc []float32
	for len(acc) < want && time.Now().Before(deadline) && ctx.Err() == nil {
		b, ok := r.NextChunk(ctx, pollInterval)
		if !ok {
			continue
		}
		acc = append(acc, b.Samples...)
	}
	if len(acc) == 0 {
		return audio.Buffer{}, false
	}
	if len(acc) > want {
		acc = acc[:want]
	}
	return audio.NewBuffer(acc, rate), true
}

// Clear drops every queued chunk and returns how many were dropped.
func (r *Recorder) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queue)
	r.queue = nil
	return n
}

// Len returns the number of queued chunks.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Pushed returns the total number of chunks received since creation.
func (r *Recorder) Pushed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushed
}
