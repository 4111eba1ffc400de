// ABOUTME: Null audio output that discards samples at real-time pace
// ABOUTME: Used for headless runs and tests without an audio device
package output

import (
	"fmt"
	"sync"
	"time"
)

// Null discards audio. When Realtime is set, Write sleeps for the duration
// of the written samples so playback progresses at wall-clock speed.
type Null struct {
	level

	Realtime bool

	mu         sync.Mutex
	sampleRate int
	channels   int
	open       bool
	suspended  bool
	written    int64
}

// NewNull creates a real-time paced null output
func NewNull() *Null {
	return &Null{level: level{volume: 100}, Realtime: true}
}

func (n *Null) Open(sampleRate, channels, bitDepth int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz %dch", sampleRate, channels)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sampleRate = sampleRate
	n.channels = channels
	n.open = true
	return nil
}

func (n *Null) Write(samples []int32) error {
	n.mu.Lock()
	if !n.open {
		n.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	n.written += int64(len(samples))
	realtime := n.Realtime
	rate, channels := n.sampleRate, n.channels
	n.mu.Unlock()

	if realtime {
		frames := len(samples) / channels
		time.Sleep(time.Duration(float64(frames) / float64(rate) * float64(time.Second)))
	}
	return nil
}

func (n *Null) Suspend() error {
	n.mu.Lock()
	n.suspended = true
	n.mu.Unlock()
	return nil
}

func (n *Null) Resume() error {
	n.mu.Lock()
	n.suspended = false
	n.mu.Unlock()
	return nil
}

func (n *Null) Close() error {
	n.mu.Lock()
	n.open = false
	n.mu.Unlock()
	return nil
}

// Written returns the total number of samples written
func (n *Null) Written() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.written
}

// Suspended reports whether Suspend was called without a following Resume
func (n *Null) Suspended() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.suspended
}
