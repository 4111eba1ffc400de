// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, decoded buffers and sample conversions
package audio

import "time"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Frames returns the number of frames in n interleaved samples
func (f Format) Frames(n int) int {
	if f.Channels <= 0 {
		return 0
	}
	return n / f.Channels
}

// DurationOf returns the playback length of n interleaved samples
func (f Format) DurationOf(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.Frames(n)) / float64(f.SampleRate) * float64(time.Second))
}

// Buffer represents decoded PCM audio
type Buffer struct {
	Position time.Duration // Media time of the first frame
	Samples  []int32       // PCM samples (int32 to support both 16-bit and 24-bit)
	Format   Format
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	// Left-shift to position 16-bit value in upper bits
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleToFloat converts a 24-bit range sample to [-1, 1]
func SampleToFloat(sample int32) float64 {
	v := float64(sample) / float64(Max24Bit)
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// DownmixMono averages interleaved channels into mono samples in [-1, 1]
func DownmixMono(samples []int32, channels int) []float64 {
	if channels <= 1 {
		mono := make([]float64, len(samples))
		for i, s := range samples {
			mono[i] = SampleToFloat(s)
		}
		return mono
	}

	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += SampleToFloat(samples[i*channels+ch])
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
