package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

// STT fails over between transcription backends. The request audio is read
// once and replayed to each attempt.
type STT struct{ group *Group[stt.Provider] }

var _ stt.Provider = (*STT)(nil)

// NewSTT wraps primary; add fallbacks with AddFallback.
func NewSTT(name string, primary stt.Provider, cfg BreakerConfig) *STT {
	return &STT{group: NewGroup(name, primary, cfg)}
}

func (f *STT) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

func (f *STT) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var audio []byte
	if req.Audio != nil {
		var err error
		if audio, err = io.ReadAll(req.Audio); err != nil {
			return nil, fmt.Errorf("resilience: read audio: %w", err)
		}
	}
	return Call(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
		attempt := req
		attempt.Audio = bytes.NewReader(audio)
		return p.Transcribe(ctx, attempt)
	})
}
