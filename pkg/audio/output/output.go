// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends and backend selection
package output

import (
	"fmt"

	"go.uber.org/zap"
)

// Output represents an audio output device
type Output interface {
	// Open initializes the output device
	Open(sampleRate, channels, bitDepth int) error

	// Write outputs audio samples (blocks until written)
	Write(samples []int32) error

	// Suspend pauses the device without releasing it
	Suspend() error

	// Resume restarts a suspended device
	Resume() error

	// Close releases output resources
	Close() error
}

// Volume is implemented by outputs with software volume control
type Volume interface {
	SetVolume(volume int)
	GetVolume() int
	SetMuted(muted bool)
	IsMuted() bool
}

// Backend names accepted by New
const (
	BackendOto   = "oto"
	BackendMalgo = "malgo"
	BackendNull  = "null"
)

// New creates the named output backend
func New(backend string, log *zap.Logger) (Output, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch backend {
	case "", BackendOto:
		return NewOto(log), nil
	case BackendMalgo:
		return NewMalgo(log), nil
	case BackendNull:
		return NewNull(), nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", backend)
}
