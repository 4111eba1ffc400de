// ABOUTME: Software volume and PCM packing shared by output backends
// ABOUTME: Embedded level type satisfies the Volume interface
package output

import (
	"encoding/binary"
	"sync"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
)

// level is the software gain of a backend. Embed it to get the Volume methods.
type level struct {
	mu     sync.Mutex
	volume int
	muted  bool
}

// SetVolume sets the volume, clamped to 0-100
func (l *level) SetVolume(volume int) {
	l.mu.Lock()
	l.volume = max(0, min(volume, 100))
	l.mu.Unlock()
}

// GetVolume returns the current volume
func (l *level) GetVolume() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// SetMuted sets the mute state
func (l *level) SetMuted(muted bool) {
	l.mu.Lock()
	l.muted = muted
	l.mu.Unlock()
}

// IsMuted returns the mute state
func (l *level) IsMuted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted
}

func (l *level) gain() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.muted {
		return 0
	}
	return float64(l.volume) / 100
}

// scale returns samples multiplied by the current gain, clamped to 24 bits.
// At full volume the input slice is returned as is.
func (l *level) scale(samples []int32) []int32 {
	g := l.gain()
	if g == 1 {
		return samples
	}
	out := make([]int32, len(samples))
	for i, s := range samples {
		v := int64(float64(s) * g)
		out[i] = int32(max(audio.Min24Bit, min(v, audio.Max24Bit)))
	}
	return out
}

// packPCM encodes 24-bit range samples as little-endian PCM of the given
// bit depth, reusing dst when it is large enough.
func packPCM(dst []byte, samples []int32, bitDepth int) []byte {
	width := bitDepth / 8
	n := len(samples) * width
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		b := dst[i*width:]
		switch bitDepth {
		case 16:
			binary.LittleEndian.PutUint16(b, uint16(audio.SampleToInt16(s)))
		case 24:
			p := audio.SampleTo24Bit(s)
			copy(b, p[:])
		case 32:
			binary.LittleEndian.PutUint32(b, uint32(s<<8))
		}
	}
	return dst
}
