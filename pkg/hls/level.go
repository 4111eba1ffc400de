// ABOUTME: Quality levels and bandwidth-based level selection
// ABOUTME: EWMA throughput estimator feeding automatic level choice
package hls

import (
	"sync"
	"time"
)

// Level is one rendition of the stream
type Level struct {
	Index     int
	Bandwidth int // bits per second
	Name      string
	Codecs    string
	URL       string
}

// bandwidthEstimator keeps an exponentially weighted average of segment
// download throughput
type bandwidthEstimator struct {
	mu       sync.Mutex
	estimate float64
	weight   float64
	samples  int
}

func newBandwidthEstimator(initial, weight float64) *bandwidthEstimator {
	return &bandwidthEstimator{estimate: initial, weight: weight}
}

// sample records a download of n bytes that took d
func (b *bandwidthEstimator) sample(n int, d time.Duration) {
	if n <= 0 {
		return
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	bps := float64(n) * 8 / d.Seconds()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.samples == 0 {
		b.estimate = bps
	} else {
		b.estimate = b.weight*bps + (1-b.weight)*b.estimate
	}
	b.samples++
}

func (b *bandwidthEstimator) get() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.estimate
}

// selectLevel returns the highest level whose bandwidth fits within
// estimate × factor. Levels are ordered by ascending bandwidth; the lowest
// is returned when none fits.
func selectLevel(levels []Level, estimate, factor float64) int {
	if len(levels) == 0 {
		return -1
	}
	budget := estimate * factor
	chosen := 0
	for i, l := range levels {
		if float64(l.Bandwidth) <= budget {
			chosen = i
		}
	}
	return chosen
}
