// ABOUTME: Decode graph connecting one media element to the analyser and output
// ABOUTME: Converts element audio to the context format and taps it for analysis
package graph

import (
	"context"
	"sync"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio"
	"github.com/Resonate-Protocol/trackdeck/pkg/audio/resample"
)

// Graph is the element → analyser → output chain for one element. It is
// created once per element and released when the session ends.
type Graph struct {
	ctx      *Context
	element  any
	analyser *Analyser

	mu        sync.Mutex
	resampler *resample.Resampler
	inFormat  audio.Format
	released  bool
}

// Analyser returns the analysis node of this graph
func (g *Graph) Analyser() *Analyser {
	return g.analyser
}

// Process pushes decoded audio through the graph. It blocks while the
// context is suspended and while the output device is full.
func (g *Graph) Process(ctx context.Context, buf audio.Buffer) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return ErrClosed
	}

	outRate := g.ctx.SampleRate()
	outChannels := g.ctx.Channels()

	samples := remapChannels(buf.Samples, buf.Format.Channels, outChannels)
	if buf.Format.SampleRate != outRate {
		if g.resampler == nil || g.inFormat.SampleRate != buf.Format.SampleRate {
			g.resampler = resample.New(buf.Format.SampleRate, outRate, outChannels)
		}
		samples = g.resampler.Process(samples)
	}
	g.inFormat = buf.Format
	g.mu.Unlock()

	g.analyser.Write(audio.DownmixMono(samples, outChannels))

	return g.ctx.write(ctx, samples)
}

// Flush drops resampler state, used after a seek
func (g *Graph) Flush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resampler != nil {
		g.resampler.Reset()
	}
}

// Release detaches the graph from the context. Safe to call more than once.
func (g *Graph) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()

	g.analyser.Reset()
	g.ctx.release(g)
}

// remapChannels converts interleaved samples between channel counts. Mono is
// duplicated, extra channels are averaged down.
func remapChannels(samples []int32, from, to int) []int32 {
	if from == to || from <= 0 {
		return samples
	}

	frames := len(samples) / from
	out := make([]int32, frames*to)
	for i := 0; i < frames; i++ {
		frame := samples[i*from : i*from+from]
		if from == 1 {
			for ch := 0; ch < to; ch++ {
				out[i*to+ch] = frame[0]
			}
			continue
		}
		if to == 1 {
			var sum int64
			for _, s := range frame {
				sum += int64(s)
			}
			out[i] = int32(sum / int64(from))
			continue
		}
		for ch := 0; ch < to; ch++ {
			out[i*to+ch] = frame[ch%from]
		}
	}
	return out
}
