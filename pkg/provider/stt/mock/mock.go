// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns a fixed Result (or error) and records every Request it
// receives, including a copy of the uploaded audio bytes.
//
//	p := &mock.Provider{Result: &stt.Result{Text: "hello"}}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: wav})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request with Audio replaced by nil.
	Req stt.Request

	// Audio is a copy of the bytes read from Req.Audio.
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. Nil returns an empty Result.
	Result *stt.Result

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// TextFunc, if set, computes the result text from the request. It takes
	// precedence over Result.
	TextFunc func(stt.Request) string

	// Calls records every Transcribe invocation.
	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (*stt.Result, error) {
	var data []byte
	if req.Audio != nil {
		data, _ = io.ReadAll(req.Audio)
	}
	call := req
	call.Audio = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Req: call, Audio: data})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.TextFunc != nil {
		return &stt.Result{Text: p.TextFunc(call), Language: req.Language}, nil
	}
	if p.Result != nil {
		r := *p.Result
		return &r, nil
	}
	return &stt.Result{}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
