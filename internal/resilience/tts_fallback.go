package resilience

import (
	"context"

	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

// TTS fails over between speech synthesis backends. Backends may return
// different audio formats; callers decode by Audio.Format.
type TTS struct{ group *Group[tts.Provider] }

var _ tts.Provider = (*TTS)(nil)

// NewTTS wraps primary; add fallbacks with AddFallback.
func NewTTS(name string, primary tts.Provider, cfg BreakerConfig) *TTS {
	return &TTS{group: NewGroup(name, primary, cfg)}
}

func (f *TTS) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

func (f *TTS) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return Call(ctx, f.group, func(ctx context.Context, p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}

func (f *TTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return Call(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
