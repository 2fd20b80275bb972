// Package playback plays audio buffers and files on an output device.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/audio/decode"
)

// ToneAmplitude is the peak level of PlayTone.
const ToneAmplitude = 0.3

// DefaultTimeout bounds WaitUntilDone for callers without their own limit.
const DefaultTimeout = 30 * time.Second

// Sink is an output device. Write blocks until buf has been handed to the
// device or ctx is cancelled. buf is already at SampleRate and Channels.
type Sink interface {
	Write(ctx context.Context, buf audio.Buffer) error
	SampleRate() int
	Channels() int
}

// Loader turns a file into a buffer. *decode.Chain satisfies it.
type Loader interface {
	Load(ctx context.Context, path string) (audio.Buffer, decode.Result, error)
}

// Player serialises playback on a Sink. At most one buffer plays at a time;
// starting a new one stops the previous.
type Player struct {
	sink   Sink
	loader Loader

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	playing bool
}

// New returns a Player for sink. loader may be nil, in which case PlayFile
// uses a default decode.Chain.
func New(sink Sink, loader Loader) *Player {
	if loader == nil {
		loader = decode.NewChain(decode.WithSampleRate(sink.SampleRate()))
	}
	return &Player{sink: sink, loader: loader}
}

// Play normalises buf to the sink format and plays it. With blocking set it
// returns once playback finished and reports whether it succeeded;
// otherwise it returns true as soon as playback has been scheduled.
func (p *Player) Play(ctx context.Context, buf audio.Buffer, blocking bool) bool {
	if buf.Empty() || buf.SampleRate <= 0 {
		slog.Warn("playback: nothing to play")
		return false
	}
	out := audio.Convert(buf, p.sink.SampleRate(), p.sink.Channels())

	p.Stop()

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	result := make(chan bool, 1)

	p.mu.Lock()
	p.cancel, p.done, p.playing = cancel, done, true
	p.mu.Unlock()

	go func() {
		ok := true
		defer func() {
			p.mu.Lock()
			if p.done == done {
				p.playing = false
				p.cancel, p.done = nil, nil
			}
			p.mu.Unlock()
			cancel()
			result <- ok
			close(done)
		}()
		if err := p.sink.Write(pctx, out); err != nil {
			ok = false
			if !errors.Is(err, context.Canceled) {
				slog.Error("playback: write failed", "err", err)
			}
		}
	}()

	if !blocking {
		return true
	}
	return <-result
}

// PlayFile loads path through the Loader and plays it.
func (p *Player) PlayFile(ctx context.Context, path string, blocking bool) bool {
	buf, res, err := p.loader.Load(ctx, path)
	if err != nil {
		slog.Error("playback: failed to load file", "path", path, "err", err)
		return false
	}
	if res.Degraded {
		slog.Warn("playback: file decoded as raw PCM, quality may be degraded", "path", path)
	}
	return p.Play(ctx, buf, blocking)
}

// InjectAudioFile plays path to completion.
func (p *Player) InjectAudioFile(ctx context.Context, path string) bool {
	return p.PlayFile(ctx, path, true)
}

// PlayTone plays a sine test tone and blocks until it finishes.
func (p *Player) PlayTone(ctx context.Context, freq float64, d time.Duration) bool {
	return p.Play(ctx, audio.Tone(freq, ToneAmplitude, p.sink.SampleRate(), d), true)
}

// Stop halts in-flight playback and waits for it to wind down. Safe to call
// at any time.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsPlaying reports whether a buffer is currently playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// WaitUntilDone blocks until playback ends or timeout elapses. It returns
// false on timeout.
func (p *Player) WaitUntilDone(timeout time.Duration) bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
