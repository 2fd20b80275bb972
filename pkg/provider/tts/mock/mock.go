// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to the synthesizer and to verify the
// text, voice and speed it passes to the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio: &tts.Audio{Data: wavBytes, Format: tts.FormatWAV},
//	}
//	out, _ := p.Synthesize(ctx, tts.Request{Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize when AudioFunc is nil. A nil Audio yields
	// an empty mp3 payload.
	Audio *tts.Audio

	// AudioFunc, if set, computes the result for each request.
	AudioFunc func(req tts.Request) (*tts.Audio, error)

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// Requests records every Synthesize request in order.
	Requests []tts.Request

	// ListVoicesCalls counts ListVoices invocations.
	ListVoicesCalls int
}

// Synthesize records the request and returns the configured audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn, out, err := p.AudioFunc, p.Audio, p.SynthesizeErr
	p.mu.Unlock()

	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	if out == nil {
		return &tts.Audio{Format: tts.FormatMP3}, nil
	}
	cp := *out
	cp.Data = append([]byte(nil), out.Data...)
	return &cp, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.Voices, p.ListVoicesErr
}

// Texts returns the text of every recorded request.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Requests))
	for i, r := range p.Requests {
		out[i] = r.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
