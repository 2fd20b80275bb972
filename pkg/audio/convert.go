package audio

import (
	"encoding/binary"
	"math"
)

// Sample is the set of raw sample types accepted by [ToFloat32].
type Sample interface {
	~int16 | ~int32 | ~float32 | ~float64
}

// ToFloat32 normalises integer PCM of any supported width into float32 in
// [-1, 1]. Float input is copied unchanged.
func ToFloat32[S Sample](in []S) []float32 {
	var zero S
	scale := 1.0
	switch any(zero).(type) {
	case int16:
		scale = 1.0 / 32768.0
	case int32:
		scale = 1.0 / 2147483648.0
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float32 samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples to little-endian int16 PCM bytes,
// clamping values outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(v)))
	}
	return out
}

// Float32ToInt16 converts float32 samples to int16, clamping out-of-range values.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		out[i] = floatToInt16(v)
	}
	return out
}

func floatToInt16(v float32) int16 {
	s := math.Round(float64(v) * 32767)
	if s > math.MaxInt16 {
		s = math.MaxInt16
	} else if s < math.MinInt16 {
		s = math.MinInt16
	}
	return int16(s)
}

// Upmix duplicates each mono sample into channels interleaved copies.
// channels <= 1 returns the input unchanged.
func Upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, v := range mono {
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

// Downmix averages interleaved frames into mono. channels <= 1 returns the
// input unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation. Equal or invalid rates return the input unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	channels = max(channels, 1)
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := samples[idx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// Convert returns b converted to the target rate and channel count.
// Channel changes go through mono: the source is downmixed first so the
// resampler runs on the narrowest signal, then upmixed to the target.
func Convert(b Buffer, sampleRate, channels int) Buffer {
	channels = max(channels, 1)
	ch := max(b.Channels, 1)
	if b.SampleRate == sampleRate && ch == channels {
		return b
	}
	samples := b.Samples
	if ch != channels && ch > 1 {
		samples = Downmix(samples, ch)
		ch = 1
	}
	samples = Resample(samples, ch, b.SampleRate, sampleRate)
	if ch != channels {
		samples = Upmix(samples, channels)
		ch = channels
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: ch}
}
