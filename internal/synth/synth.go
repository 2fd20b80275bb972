// Package synth renders reply text as playable WAV files through a
// [tts.Provider] and the [decode.Chain].
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/audio/decode"
	"github.com/MrWong99/meetagent/pkg/provider/tts"
)

// Config tunes a Synthesizer.
type Config struct {
	// Provider names the backend in metrics.
	Provider string

	Voice  string
	Format string

	// Speed is clamped to [tts.MinSpeed, tts.MaxSpeed]; zero means 1.0.
	Speed float64

	// MaxChars is the per-request text limit.
	MaxChars int

	// MultiChunk synthesizes every chunk of an over-long reply. When false
	// only the first chunk is rendered and the rest is dropped.
	MultiChunk bool

	// Dir receives the output files. Empty uses os.TempDir.
	Dir string

	Metrics *observe.Metrics
}

// Speech is a synthesized reply.
type Speech struct {
	// Files are playable audio files in speaking order.
	Files []string

	// Estimate is the expected speaking time of the rendered text.
	Estimate time.Duration

	// Degraded is set when any file kept its original encoding.
	Degraded bool

	// Dropped counts chunks that were not rendered.
	Dropped int
}

// Remove deletes every file of s. Missing files are ignored.
func (s Speech) Remove() {
	for _, f := range s.Files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			slog.Debug("synth: remove speech file", "path", f, "err", err)
		}
	}
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	tts   tts.Provider
	chain *decode.Chain
	cfg   Config
}

// New returns a Synthesizer. A nil chain uses decode.NewChain().
func New(p tts.Provider, chain *decode.Chain, cfg Config) *Synthesizer {
	if chain == nil {
		chain = decode.NewChain()
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Format == "" {
		cfg.Format = tts.FormatMP3
	}
	cfg.Speed = tts.ClampSpeed(cfg.Speed)
	if cfg.Provider == "" {
		cfg.Provider = "tts"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Synthesizer{tts: p, chain: chain, cfg: cfg}
}

// Speed returns the effective speaking speed.
func (s *Synthesizer) Speed() float64 { return s.cfg.Speed }

// Estimate is EstimateDuration at the configured speed.
func (s *Synthesizer) Estimate(text string) time.Duration {
	return EstimateDuration(text, s.cfg.Speed)
}

// Synthesize renders text. It reports false when text is empty or the first
// chunk could not be rendered. A later chunk failing ends the reply early
// and counts the remainder as dropped.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (Speech, bool) {
	chunks := Split(text, s.cfg.MaxChars, true)
	if len(chunks) == 0 {
		return Speech{}, false
	}
	log := observe.Logger(ctx)

	render := chunks
	if !s.cfg.MultiChunk && len(chunks) > 1 {
		render = chunks[:1]
		log.Warn("synth: reply exceeds request limit, speaking first chunk only",
			"chunks", len(chunks), "max_chars", s.cfg.MaxChars)
	}

	var sp Speech
	for i, c := range render {
		path, degraded, err := s.render(ctx, c)
		if err != nil {
			log.Error("synth: chunk failed", "chunk", i, "err", err)
			break
		}
		sp.Files = append(sp.Files, path)
		sp.Degraded = sp.Degraded || degraded
		sp.Estimate += s.Estimate(c)
	}
	sp.Dropped = len(chunks) - len(sp.Files)
	if len(sp.Files) == 0 {
		return Speech{}, false
	}
	return sp, true
}

func (s *Synthesizer) render(ctx context.Context, text string) (string, bool, error) {
	start := time.Now()
	out, err := s.tts.Synthesize(ctx, tts.Request{
		Text:   text,
		Voice:  s.cfg.Voice,
		Format: s.cfg.Format,
		Speed:  s.cfg.Speed,
	})
	s.cfg.Metrics.ObserveCall(ctx, observe.KindTTS, s.cfg.Provider, time.Since(start), err)
	if err != nil {
		return "", false, fmt.Errorf("synth: %w", err)
	}
	if len(out.Data) == 0 {
		return "", false, errors.New("synth: provider returned no audio")
	}

	dst := filepath.Join(s.dir(), "reply_"+uuid.NewString()+".wav")
	format := strings.ToLower(out.Format)
	if format == "" {
		format = s.cfg.Format
	}

	var res decode.Result
	if format == tts.FormatPCM && out.SampleRate > 0 {
		res, err = s.chain.WriteBuffer(dst, audio.NewBuffer(audio.PCM16ToFloat32(out.Data), out.SampleRate))
	} else {
		res, err = s.chain.ToWAV(ctx, out.Data, format, dst)
	}
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(res.Path); err != nil {
		return "", false, fmt.Errorf("synth: output missing: %w", err)
	}
	slog.Debug("synth: chunk rendered", "path", res.Path, "method", res.Method, "chars", len(text))
	return res.Path, res.Degraded, nil
}

func (s *Synthesizer) dir() string {
	if s.cfg.Dir != "" {
		return s.cfg.Dir
	}
	return os.TempDir()
}

// Ping renders a short phrase and discards it.
func (s *Synthesizer) Ping(ctx context.Context) error {
	out, err := s.tts.Synthesize(ctx, tts.Request{
		Text:   "Test.",
		Voice:  s.cfg.Voice,
		Format: s.cfg.Format,
		Speed:  s.cfg.Speed,
	})
	if err != nil {
		return fmt.Errorf("synth: ping: %w", err)
	}
	if len(out.Data) == 0 {
		return errors.New("synth: ping: empty audio")
	}
	return nil
}
