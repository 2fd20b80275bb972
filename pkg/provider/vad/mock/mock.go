// Package mock provides test doubles for the vad package interfaces.
//
// Classifier answers from a script of verdicts, one per IsSpeech call, and
// records every frame it is shown.
//
//	cls := &mock.Classifier{Script: []bool{true, true, false}}
//	det, _ := vad.NewDetector(cls, vad.DefaultConfig())
package mock

import (
	"sync"

	"github.com/MrWong99/meetagent/pkg/provider/vad"
)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script holds the verdicts returned in order. Once exhausted, Default is
	// returned.
	Script []bool

	// Default is returned after Script runs out.
	Default bool

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls counts IsSpeech invocations.
	Calls int

	// Frames records a copy of every frame passed to IsSpeech.
	Frames [][]float32
}

var _ vad.Classifier = (*Classifier)(nil)

// IsSpeech records the frame and returns the next scripted verdict.
func (c *Classifier) IsSpeech(frame []float32, _ int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, append([]float32(nil), frame...))
	idx := c.Calls
	c.Calls++
	if c.Err != nil {
		return false, c.Err
	}
	if idx < len(c.Script) {
		return c.Script[idx], nil
	}
	return c.Default, nil
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	// Classifier is returned by NewClassifier. Nil returns a fresh Classifier.
	Classifier vad.Classifier

	// Err, if non-nil, is returned from NewClassifier.
	Err error

	// Configs records every Config passed to NewClassifier.
	Configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewClassifier records cfg and returns Classifier, Err.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.Configs = append(e.Configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}
