// ABOUTME: Tests for the visualization loop
// ABOUTME: Checks skipping without an analyser and re-reading after switches
package player

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
)

type swappableSource struct {
	mu sync.Mutex
	a  *graph.Analyser
}

func (s *swappableSource) Analyser() *graph.Analyser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a
}

func (s *swappableSource) set(a *graph.Analyser) {
	s.mu.Lock()
	s.a = a
	s.mu.Unlock()
}

func sineAnalyser() *graph.Analyser {
	a := graph.NewAnalyser(graph.AnalyserConfig{})
	samples := make([]float64, a.FFTSize())
	for i := range samples {
		samples[i] = 0.8 * math.Sin(2*math.Pi*float64(i)/32)
	}
	a.Write(samples)
	return a
}

func TestVisualizerSkipsWithoutAnalyser(t *testing.T) {
	src := &swappableSource{}
	frames := 0
	v := NewVisualizer(src, 60, func(Frame) { frames++ })

	if v.tick() {
		t.Error("expected tick to skip")
	}
	if frames != 0 {
		t.Errorf("expected no frames, got %d", frames)
	}
}

func TestVisualizerReadsCurrentAnalyser(t *testing.T) {
	src := &swappableSource{a: sineAnalyser()}
	var last Frame
	v := NewVisualizer(src, 60, func(f Frame) { last = f })

	if !v.tick() {
		t.Fatal("expected a frame")
	}
	if len(last.TimeDomain) != 1024 || len(last.Frequency) != 1024 {
		t.Fatalf("unexpected frame sizes %d %d", len(last.TimeDomain), len(last.Frequency))
	}
	var peak byte
	for _, b := range last.Frequency {
		if b > peak {
			peak = b
		}
	}
	if peak == 0 {
		t.Error("expected frequency content for a sine")
	}

	// a switch replaces the analyser; the next tick sees silence
	src.set(graph.NewAnalyser(graph.AnalyserConfig{FFTSize: 512}))
	if !v.tick() {
		t.Fatal("expected a frame")
	}
	if len(last.TimeDomain) != 256 {
		t.Errorf("expected frame from the new analyser, got %d", len(last.TimeDomain))
	}
	for i, b := range last.TimeDomain {
		if b != 128 {
			t.Fatalf("sample %d: expected silence, got %d", i, b)
		}
	}

	src.set(nil)
	if v.tick() {
		t.Error("expected skip after teardown")
	}
}

func TestVisualizerStartStop(t *testing.T) {
	src := &swappableSource{a: sineAnalyser()}
	frames := make(chan Frame, 100)
	v := NewVisualizer(src, 200, func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	v.Start(context.Background())
	v.Start(context.Background())
	if !v.Running() {
		t.Fatal("expected running")
	}

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame rendered")
	}

	v.Stop()
	v.Stop()
	if v.Running() {
		t.Error("expected stopped")
	}

	// drain, then confirm nothing more arrives
	for len(frames) > 0 {
		<-frames
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(frames); n != 0 {
		t.Errorf("frames rendered after stop: %d", n)
	}
}

func TestVisualizerWithoutRenderDoesNotStart(t *testing.T) {
	v := NewVisualizer(&swappableSource{}, 0, nil)
	v.Start(context.Background())
	if v.Running() {
		t.Error("expected visualizer without render callback to stay stopped")
	}
	if v.interval != time.Second/60 {
		t.Errorf("expected 60 fps default, got %v", v.interval)
	}
}

func TestPlayerVisualizerFollowsSession(t *testing.T) {
	h := newHarness(t, nil)
	p := newPlayer(t, h, nil)
	ctx := context.Background()

	if p.Analyser() != nil {
		t.Fatal("expected no analyser before first play")
	}
	if err := p.SelectTrack(ctx, 0); err != nil {
		t.Fatal(err)
	}
	first := p.Analyser()
	if first == nil {
		t.Fatal("expected analyser for the session")
	}
	if err := p.SelectTrack(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if second := p.Analyser(); second == nil || second == first {
		t.Error("expected a fresh analyser after switching")
	}
	if !p.Visualizer().tick() {
		t.Error("expected visualizer to render from the current session")
	}
}
