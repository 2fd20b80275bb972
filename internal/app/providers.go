package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/meetagent/internal/config"
	"github.com/MrWong99/meetagent/internal/resilience"
	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
	"github.com/MrWong99/meetagent/pkg/provider/stt"
	"github.com/MrWong99/meetagent/pkg/provider/tts"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
)

// Providers holds one value per provider slot. Embeddings may be nil; every
// other slot is required by [New].
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// breakerConfig logs breaker transitions.
func breakerConfig(kind string) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider circuit changed", "kind", kind, "name", name, "from", from.String(), "to", to.String())
		},
	}
}

// createChain builds the primary entry and its fallbacks. A fallback that
// cannot be built is skipped with a warning; the primary must succeed.
func createChain[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, []named[T], error) {
	primary, err := create(entry)
	if err != nil {
		var zero T
		return zero, nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)

	var fallbacks []named[T]
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			slog.Warn("fallback provider skipped", "kind", kind, "name", fb.Name, "err", err)
			continue
		}
		slog.Info("fallback provider created", "kind", kind, "name", fb.Name, "model", fb.Model)
		fallbacks = append(fallbacks, named[T]{fb.Name, p})
	}
	return primary, fallbacks, nil
}

type named[T any] struct {
	name  string
	value T
}

// BuildProviders instantiates every provider named in cfg through reg. STT,
// LLM and TTS entries with fallbacks are wrapped in resilience groups.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	sttP, sttFB, err := createChain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.STT = sttP
	if len(sttFB) > 0 {
		g := resilience.NewSTT(cfg.Providers.STT.Name, sttP, breakerConfig("stt"))
		for _, fb := range sttFB {
			g.AddFallback(fb.name, fb.value)
		}
		ps.STT = g
	}

	llmP, llmFB, err := createChain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = llmP
	if len(llmFB) > 0 {
		g := resilience.NewLLM(cfg.Providers.LLM.Name, llmP, breakerConfig("llm"))
		for _, fb := range llmFB {
			g.AddFallback(fb.name, fb.value)
		}
		ps.LLM = g
	}

	ttsP, ttsFB, err := createChain("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsP
	if len(ttsFB) > 0 {
		g := resilience.NewTTS(cfg.Providers.TTS.Name, ttsP, breakerConfig("tts"))
		for _, fb := range ttsFB {
			g.AddFallback(fb.name, fb.value)
		}
		ps.TTS = g
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("embeddings provider not available, recall uses text matching", "name", name)
		case err != nil:
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		default:
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	engine, err := reg.CreateVAD(config.ProviderEntry{Name: cfg.VAD.Name})
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.VAD.Name, err)
	}
	ps.VAD = engine
	return ps, nil
}
