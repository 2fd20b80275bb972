package audio

import (
	"math"
	"time"
)

// Amplification limits for [Amplify].
const (
	// MaxGain caps the gain applied by Amplify.
	MaxGain = 10.0

	// MinGain is the smallest gain worth applying; quieter corrections are skipped.
	MinGain = 1.5

	// NoiseFloorRMS is the level below which a buffer is treated as silence
	// and never amplified.
	NoiseFloorRMS = 0.001
)

// RMS returns the root-mean-square level of samples. Empty input yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var p float64
	for _, v := range samples {
		p = max(p, math.Abs(float64(v)))
	}
	return p
}

// Amplify scales b towards targetRMS and returns the result with the gain
// that was applied. Buffers under [NoiseFloorRMS] and corrections below
// [MinGain] are returned unchanged with gain 1. Gain is capped at [MaxGain]
// and output samples are clipped to [-1, 1].
func Amplify(b Buffer, targetRMS float64) (Buffer, float64) {
	rms := RMS(b.Samples)
	if rms <= NoiseFloorRMS || targetRMS <= 0 {
		return b, 1
	}
	gain := min(targetRMS/rms, MaxGain)
	if gain <= MinGain {
		return b, 1
	}
	out := make([]float32, len(b.Samples))
	for i, v := range b.Samples {
		out[i] = clip(v * float32(gain))
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: b.Channels}, gain
}

func clip(v float32) float32 {
	return min(max(v, -1), 1)
}

// Silence returns d of digital silence at sampleRate, mono.
func Silence(sampleRate int, d time.Duration) Buffer {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return NewBuffer(make([]float32, n), sampleRate)
}

// Tone returns a mono sine wave of the given frequency and amplitude.
func Tone(freq, amplitude float64, sampleRate int, d time.Duration) Buffer {
	b := Silence(sampleRate, d)
	for i := range b.Samples {
		t := float64(i) / float64(sampleRate)
		b.Samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return b
}
