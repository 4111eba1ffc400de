// ABOUTME: PCM sample conversion helpers shared by the stream decoders
// ABOUTME: Converts 16-bit little-endian bytes and arbitrary bit depths to 24-bit range
package decode

import (
	"encoding/binary"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
)

// pcm16ToSamples converts 16-bit little-endian PCM bytes into samples
func pcm16ToSamples(data []byte, samples []int32) int {
	numSamples := len(data) / 2
	if numSamples > len(samples) {
		numSamples = len(samples)
	}
	for i := 0; i < numSamples; i++ {
		sample16 := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = audio.SampleFromInt16(sample16)
	}
	return numSamples
}

// scaleTo24 moves a sample of the given bit depth into the 24-bit range
func scaleTo24(sample int32, bitDepth int) int32 {
	switch {
	case bitDepth == 24 || bitDepth <= 0:
		return sample
	case bitDepth < 24:
		return sample << uint(24-bitDepth)
	default:
		return sample >> uint(bitDepth-24)
	}
}
