// ABOUTME: Visualization loop rendering live analyser data at a fixed rate
// ABOUTME: Reads the current session's analyser on every tick
package player

import (
	"context"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
)

// Frame is one visualization frame. Buffers are owned by the receiver.
type Frame struct {
	TimeDomain []byte
	Frequency  []byte
}

// AnalyserSource returns the current analysis node, or nil when there is none
type AnalyserSource interface {
	Analyser() *graph.Analyser
}

// Visualizer is a cancellable ticker task
type Visualizer struct {
	source   AnalyserSource
	interval time.Duration
	render   func(Frame)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewVisualizer creates a stopped visualizer. fps defaults to 60.
func NewVisualizer(source AnalyserSource, fps int, render func(Frame)) *Visualizer {
	if fps <= 0 {
		fps = 60
	}
	return &Visualizer{
		source:   source,
		interval: time.Second / time.Duration(fps),
		render:   render,
	}
}

// Start runs the loop until Stop or ctx is done. Starting a running loop or
// a loop without a render callback does nothing.
func (v *Visualizer) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil || v.render == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	v.cancel = cancel
	v.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.tick()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit
func (v *Visualizer) Stop() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active
func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// tick renders one frame. It reports false when there is no analyser.
func (v *Visualizer) tick() bool {
	a := v.source.Analyser()
	if a == nil {
		return false
	}

	n := a.FrequencyBinCount()
	frame := Frame{
		TimeDomain: make([]byte, n),
		Frequency:  make([]byte, n),
	}
	a.ByteTimeDomainData(frame.TimeDomain)
	a.ByteFrequencyData(frame.Frequency)
	v.render(frame)
	return true
}
