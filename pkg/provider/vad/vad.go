// Package vad turns a stream of audio into speech-start and speech-end events.
//
// A Classifier judges one fixed-duration frame at a time. The Detector splits
// arbitrary chunks into frames, aggregates the per-frame verdicts of each chunk
// by a speech-ratio vote and runs a debounced state machine on top:
//
//	Silent --(SpeechThreshold speech chunks)--> Speaking
//	Speaking --(SilenceThreshold silent chunks)--> Silent
//
// A Detector is owned by a single goroutine and is not safe for concurrent use.
package vad

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// SpeechRatio is the share of speech frames a chunk must exceed to count as
// speech.
const SpeechRatio = 0.3

// DefaultSampleRate replaces unsupported sample rates.
const DefaultSampleRate = 16000

// Classifier decides whether a single frame contains speech. The frame length
// is always SampleRate × FrameMs / 1000 samples.
type Classifier interface {
	IsSpeech(frame []float32, sampleRate int) (bool, error)
}

// Engine builds classifiers. It is the unit registered in the provider registry.
type Engine interface {
	NewClassifier(cfg Config) (Classifier, error)
}

// Config holds the detector parameters.
type Config struct {
	// SampleRate must be 8000, 16000, 32000 or 48000. Anything else is
	// replaced by DefaultSampleRate with a warning.
	SampleRate int

	// FrameMs must be 10, 20 or 30.
	FrameMs int

	// Aggressiveness ranges from 0 (least) to 3 (most aggressive non-speech
	// filtering).
	Aggressiveness int

	// SpeechThreshold is the number of consecutive speech chunks required
	// before speech starts.
	SpeechThreshold int

	// SilenceThreshold is the number of consecutive silent chunks required
	// before speech ends.
	SilenceThreshold int
}

// DefaultConfig returns the defaults: 16 kHz, 30 ms frames, aggressiveness 2,
// fast onset (5) and slower offset (10).
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		FrameMs:          30,
		Aggressiveness:   2,
		SpeechThreshold:  5,
		SilenceThreshold: 10,
	}
}

// SupportedRate reports whether the classifier accepts rate.
func SupportedRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// Normalize coerces the sample rate and fills zero thresholds with defaults.
// It returns an error for frame durations and aggressiveness values that
// cannot be coerced.
func (c Config) Normalize() (Config, error) {
	def := DefaultConfig()
	if !SupportedRate(c.SampleRate) {
		slog.Warn("vad: unsupported sample rate, coercing", "sample_rate", c.SampleRate, "using", DefaultSampleRate)
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = def.FrameMs
	}
	if !slices.Contains([]int{10, 20, 30}, c.FrameMs) {
		return c, fmt.Errorf("vad: frame duration %d ms not in {10, 20, 30}", c.FrameMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return c, fmt.Errorf("vad: aggressiveness %d out of range 0-3", c.Aggressiveness)
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = def.SpeechThreshold
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = def.SilenceThreshold
	}
	return c, nil
}

// FrameLen returns the number of samples per frame.
func (c Config) FrameLen() int { return c.SampleRate * c.FrameMs / 1000 }

// Transition is the result of feeding one chunk to Detector.Update.
type Transition struct {
	Speaking bool
	Started  bool
	Ended    bool
}

// Segment is a speech region expressed in sample offsets.
type Segment struct {
	Start, End int
}

// Stats is a snapshot of the detector state.
type Stats struct {
	Speaking       bool
	SpeechRun      int
	SilenceRun     int
	Aggressiveness int
	SampleRate     int
	FrameLen       int
}

// Detector is the debounced speech state machine.
type Detector struct {
	cls Classifier
	cfg Config

	speaking   bool
	speechRun  int
	silenceRun int
}

// NewDetector validates cfg and returns a detector in the Silent state.
func NewDetector(cls Classifier, cfg Config) (*Detector, error) {
	if cls == nil {
		return nil, fmt.Errorf("vad: nil classifier")
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	return &Detector{cls: cls, cfg: cfg}, nil
}

// Config returns the normalized configuration.
func (d *Detector) Config() Config { return d.cfg }

// Classify reports whether a single frame is speech. Frames of the wrong
// length and classifier errors yield false.
func (d *Detector) Classify(frame []float32) bool {
	if len(frame) != d.cfg.FrameLen() {
		return false
	}
	ok, err := d.cls.IsSpeech(frame, d.cfg.SampleRate)
	if err != nil {
		slog.Debug("vad: classify failed", "err", err)
		return false
	}
	return ok
}

// frames splits samples into FrameLen pieces, zero-padding the last one.
func (d *Detector) frames(samples []float32) [][]float32 {
	n := d.cfg.FrameLen()
	var out [][]float32
	for off := 0; off < len(samples); off += n {
		end := off + n
		if end <= len(samples) {
			out = append(out, samples[off:end])
			continue
		}
		pad := make([]float32, n)
		copy(pad, samples[off:])
		out = append(out, pad)
	}
	return out
}

// Votes classifies every frame of samples.
func (d *Detector) Votes(samples []float32) []bool {
	frames := d.frames(samples)
	votes := make([]bool, len(frames))
	for i, f := range frames {
		votes[i] = d.Classify(f)
	}
	return votes
}

// DetectSpeech reports whether more than SpeechRatio of the frames in samples
// are speech.
func (d *Detector) DetectSpeech(samples []float32) bool {
	votes := d.Votes(samples)
	if len(votes) == 0 {
		return false
	}
	speech := 0
	for _, v := range votes {
		if v {
			speech++
		}
	}
	return float64(speech) > float64(len(votes))*SpeechRatio
}

// Update feeds one chunk through the state machine.
func (d *Detector) Update(chunk []float32) Transition {
	var t Transition
	if d.DetectSpeech(chunk) {
		d.speechRun++
		d.silenceRun = 0
		if !d.speaking && d.speechRun >= d.cfg.SpeechThreshold {
			d.speaking = true
			t.Started = true
			slog.Debug("vad: speech started")
		}
	} else {
		d.silenceRun++
		d.speechRun = 0
		if d.speaking && d.silenceRun >= d.cfg.SilenceThreshold {
			d.speaking = false
			t.Ended = true
			slog.Debug("vad: speech ended")
		}
	}
	t.Speaking = d.speaking
	return t
}

// Speaking reports the current state.
func (d *Detector) Speaking() bool { return d.speaking }

// Segments returns the speech regions of samples lasting at least minDur.
// A region still open at the end of samples runs to len(samples).
func (d *Detector) Segments(samples []float32, minDur time.Duration) []Segment {
	n := d.cfg.FrameLen()
	minSamples := int(minDur.Seconds() * float64(d.cfg.SampleRate))

	var segs []Segment
	start := -1
	closeAt := func(end int) {
		if end-start >= minSamples {
			segs = append(segs, Segment{Start: start, End: end})
		}
		start = -1
	}
	for i, speech := range d.Votes(samples) {
		switch {
		case speech && start < 0:
			start = i * n
		case !speech && start >= 0:
			closeAt(i * n)
		}
	}
	if start >= 0 {
		closeAt(len(samples))
	}
	return segs
}

// ExtractSpeech concatenates the speech segments of buf that last at least
// half a second. ok is false when buf holds none.
func (d *Detector) ExtractSpeech(buf audio.Buffer) (audio.Buffer, bool) {
	if buf.Channels > 1 {
		buf = audio.Convert(buf, buf.SampleRate, 1)
	}
	segs := d.Segments(buf.Samples, 500*time.Millisecond)
	if len(segs) == 0 {
		return audio.Buffer{}, false
	}
	var out []float32
	for _, s := range segs {
		out = append(out, buf.Samples[s.Start:s.End]...)
	}
	return audio.NewBuffer(out, buf.SampleRate), true
}

// Stats returns a snapshot of the state.
func (d *Detector) Stats() Stats {
	return Stats{
		Speaking:       d.speaking,
		SpeechRun:      d.speechRun,
		SilenceRun:     d.silenceRun,
		Aggressiveness: d.cfg.Aggressiveness,
		SampleRate:     d.cfg.SampleRate,
		FrameLen:       d.cfg.FrameLen(),
	}
}

// Reset returns the detector to Silent and clears both counters.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
}
