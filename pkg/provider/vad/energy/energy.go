// Package energy implements a frame classifier based on RMS energy with an
// adaptive noise floor.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
)

// thresholds maps aggressiveness 0-3 to the absolute RMS level a frame must
// reach to count as speech.
var thresholds = [4]float64{0.004, 0.008, 0.012, 0.02}

// floorFactor is how far above the tracked noise floor a frame must be.
const floorFactor = 3.0

// Classifier is an energy-based vad.Classifier. Safe for concurrent use.
type Classifier struct {
	threshold float64

	mu    sync.Mutex
	floor float64
}

var _ vad.Classifier = (*Classifier)(nil)

// New returns a classifier for the given aggressiveness.
func New(aggressiveness int) (*Classifier, error) {
	if aggressiveness < 0 || aggressiveness >= len(thresholds) {
		return nil, fmt.Errorf("energy: aggressiveness %d out of range 0-3", aggressiveness)
	}
	return &Classifier{threshold: thresholds[aggressiveness]}, nil
}

// IsSpeech implements vad.Classifier.
func (c *Classifier) IsSpeech(frame []float32, sampleRate int) (bool, error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("energy: empty frame")
	}
	if !vad.SupportedRate(sampleRate) {
		return false, fmt.Errorf("energy: unsupported sample rate %d", sampleRate)
	}
	level := audio.RMS(frame)

	c.mu.Lock()
	defer c.mu.Unlock()
	speech := level >= c.threshold && level >= c.floor*floorFactor
	if !speech {
		// Slow exponential tracking of background noise.
		if c.floor == 0 {
			c.floor = level
		} else {
			c.floor = 0.95*c.floor + 0.05*level
		}
	}
	return speech, nil
}

// Threshold returns the absolute RMS threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// NoiseFloor returns the tracked background level.
func (c *Classifier) NoiseFloor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floor
}

// Engine builds energy classifiers from a vad.Config.
type Engine struct{}

var _ vad.Engine = Engine{}

// NewClassifier implements vad.Engine.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	return New(cfg.Aggressiveness)
}
